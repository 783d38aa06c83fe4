package apiclient

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/phrazzld/carsync-api/internal/config"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/redact"
	"github.com/sethvargo/go-retry"
)

// CallClass selects the timeouts applied to a call.
type CallClass string

// Call classes.
const (
	ClassInference CallClass = "inference"
	ClassToken     CallClass = "token"
	ClassStatus    CallClass = "status"
	ClassData      CallClass = "data"
)

// Timeouts bound a single attempt.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
}

// Options configures a Client.
type Options struct {
	Classes     map[CallClass]Timeouts
	MaxAttempts int
	BaseDelay   time.Duration
}

// OptionsFromConfig converts the HTTP configuration section into Options.
func OptionsFromConfig(cfg config.HTTPConfig) Options {
	connect := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }

	return Options{
		Classes: map[CallClass]Timeouts{
			ClassInference: {Connect: connect, Read: seconds(cfg.InferenceTimeoutSeconds)},
			ClassToken:     {Connect: connect, Read: seconds(cfg.TokenTimeoutSeconds)},
			ClassStatus:    {Connect: connect, Read: seconds(cfg.StatusTimeoutSeconds)},
			ClassData:      {Connect: connect, Read: seconds(cfg.DataTimeoutSeconds)},
		},
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelayMillis) * time.Millisecond,
	}
}

// Client executes outbound calls with per-class timeouts and bounded retry.
type Client struct {
	clients     map[CallClass]*http.Client
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// New creates a Client. Classes missing from opts get 5s connect and 15s read timeouts.
func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}

	clients := make(map[CallClass]*http.Client)
	for _, class := range []CallClass{ClassInference, ClassToken, ClassStatus, ClassData} {
		t, ok := opts.Classes[class]
		if !ok {
			t = Timeouts{Connect: 5 * time.Second, Read: 15 * time.Second}
		}
		clients[class] = newHTTPClient(t)
	}

	return &Client{
		clients:     clients,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		logger:      logger.With(slog.String("component", "api_client")),
	}
}

func newHTTPClient(t Timeouts) *http.Client {
	dialer := &net.Dialer{Timeout: t.Connect, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: t.Read,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   t.Connect,
			ResponseHeaderTimeout: t.Read,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// HTTPClient returns the http.Client used for class.
func (c *Client) HTTPClient(class CallClass) *http.Client {
	if hc, ok := c.clients[class]; ok {
		return hc
	}
	return c.clients[ClassData]
}

// MaxAttempts returns the number of attempts made before giving up.
func (c *Client) MaxAttempts() int {
	return c.maxAttempts
}

// CallFunc performs one attempt of a call with the class's http.Client.
type CallFunc[T any] func(ctx context.Context, hc *http.Client) (T, error)

// Execute runs fn until it succeeds, fails permanently, or runs out of attempts.
// Only errors Classify reports as transient are retried.
func Execute[T any](ctx context.Context, c *Client, class CallClass, op string, fn CallFunc[T]) Outcome[T] {
	log := logger.FromContextOrDefault(ctx, c.logger).With(
		slog.String("op", op),
		slog.String("call_class", string(class)))
	hc := c.HTTPClient(class)

	var (
		value     T
		lastErr   error
		status    int
		attempts  int
		permanent bool
	)

	backoff := retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewExponential(c.baseDelay))
	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		v, err := fn(ctx, hc)
		if err == nil {
			value, lastErr = v, nil
			return nil
		}

		lastErr = err
		var transient bool
		transient, status = Classify(err)
		if ctx.Err() != nil {
			return err
		}
		if !transient {
			permanent = true
			return err
		}

		log.Warn("transient call failure",
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", c.maxAttempts),
			slog.Int("status", status),
			slog.String("error", redact.Error(err)))
		return retry.RetryableError(err)
	})

	switch {
	case attempts > 0 && lastErr == nil:
		if attempts > 1 {
			log.Info("call succeeded after retry", slog.Int("attempts", attempts))
		}
		return Success(value)
	case ctx.Err() != nil:
		cause := lastErr
		if cause == nil {
			cause = ctx.Err()
		}
		return Failed[T](&CallError{Class: ClassCanceled, Op: op, StatusCode: status, Attempts: attempts, Err: cause})
	case permanent:
		log.Warn("permanent call failure",
			slog.Int("attempts", attempts),
			slog.Int("status", status),
			slog.String("error", redact.Error(lastErr)))
		return Failed[T](&CallError{Class: ClassPermanent, Op: op, StatusCode: status, Attempts: attempts, Err: lastErr})
	default:
		log.Error("call retries exhausted",
			slog.Int("attempts", attempts),
			slog.Int("status", status),
			slog.String("error", redact.Error(lastErr)))
		return Failed[T](&CallError{
			Class:      ClassTransientExhausted,
			Op:         op,
			StatusCode: status,
			Attempts:   attempts,
			Err:        lastErr,
		})
	}
}
