package logger

import (
	"context"
	"log/slog"
	"sync"
)

// Entry is a simplified log record captured by a CaptureHandler.
type Entry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// CaptureHandler is a memory-backed slog.Handler for asserting on log output in tests.
type CaptureHandler struct {
	mu      *sync.Mutex
	entries *[]Entry
	attrs   []slog.Attr
}

// NewCaptureHandler creates an empty CaptureHandler.
func NewCaptureHandler() *CaptureHandler {
	return &CaptureHandler{
		mu:      &sync.Mutex{},
		entries: &[]Entry{},
	}
}

// Enabled satisfies slog.Handler interface
func (h *CaptureHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// Handle satisfies slog.Handler interface
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := Entry{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]any, len(h.attrs)+r.NumAttrs()),
	}
	for _, attr := range h.attrs {
		entry.Attrs[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(attr slog.Attr) bool {
		entry.Attrs[attr.Key] = attr.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	*h.entries = append(*h.entries, entry)
	return nil
}

// WithAttrs satisfies slog.Handler interface. The returned handler shares
// captured entries with h.
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CaptureHandler{mu: h.mu, entries: h.entries, attrs: merged}
}

// WithGroup satisfies slog.Handler interface. Groups are flattened.
func (h *CaptureHandler) WithGroup(_ string) slog.Handler {
	return h
}

// Entries returns all captured log entries
func (h *CaptureHandler) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]Entry, len(*h.entries))
	copy(result, *h.entries)
	return result
}

// Find returns captured entries with the given message.
func (h *CaptureHandler) Find(message string) []Entry {
	var out []Entry
	for _, e := range h.Entries() {
		if e.Message == message {
			out = append(out, e)
		}
	}
	return out
}
