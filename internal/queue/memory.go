package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultMemoryQueueSize is the per-queue buffer of a MemoryBroker.
const DefaultMemoryQueueSize = 256

// MemoryBroker is a single-process Broker backed by buffered channels.
// Queues with a TTL hold each message for that long and then dead-letter
// it to the exchange, incrementing its death count, the same way the
// RabbitMQ delay queue behaves. Nothing survives a restart.
type MemoryBroker struct {
	mu     sync.RWMutex
	specs  map[string]QueueSpec
	queues map[string]chan *Delivery
	closed bool

	// timers holds messages parked in TTL queues, keyed to their queue name.
	timerMu sync.Mutex
	timers  map[*time.Timer]string

	logger   *slog.Logger
	exchange string
}

var (
	_ Broker         = (*MemoryBroker)(nil)
	_ RetryPublisher = (*MemoryBroker)(nil)
)

// NewMemoryBroker declares topology in memory with the given per-queue buffer size.
func NewMemoryBroker(topology Topology, size int, logger *slog.Logger) *MemoryBroker {
	if size <= 0 {
		size = DefaultMemoryQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &MemoryBroker{
		specs:    make(map[string]QueueSpec, len(topology.Queues)),
		queues:   make(map[string]chan *Delivery, len(topology.Queues)),
		timers:   make(map[*time.Timer]string),
		logger:   logger.With(slog.String("component", "memory_broker")),
		exchange: topology.Exchange,
	}
	for _, spec := range topology.Queues {
		b.specs[spec.Name] = spec
		// Delay queues never have consumers, their messages live in timers.
		if spec.TTL == 0 {
			b.queues[spec.Name] = make(chan *Delivery, size)
		}
	}
	return b
}

// Publish implements Publisher.Publish.
func (b *MemoryBroker) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.route(routingKey, body, 0)
}

// PublishRetry implements RetryPublisher.PublishRetry.
func (b *MemoryBroker) PublishRetry(ctx context.Context, routingKey string, body []byte, deathCount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.route(routingKey, body, max(deathCount, 0))
}

// route delivers a copy of body to every queue whose binding matches routingKey.
func (b *MemoryBroker) route(routingKey string, body []byte, deaths int) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBrokerClosed
	}

	routed := false
	for name, spec := range b.specs {
		if !MatchTopic(spec.BindingKey, routingKey) {
			continue
		}
		routed = true

		payload := append([]byte(nil), body...)
		if spec.TTL > 0 {
			b.schedule(spec, routingKey, payload, deaths)
			continue
		}
		if err := b.enqueue(b.newDelivery(name, routingKey, payload, deaths, false)); err != nil {
			return err
		}
	}

	if !routed {
		return fmt.Errorf("%w: %s", ErrUnroutable, routingKey)
	}
	return nil
}

// schedule parks a message in a TTL queue. Callers hold b.mu.
func (b *MemoryBroker) schedule(spec QueueSpec, routingKey string, body []byte, deaths int) {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(spec.TTL, func() {
		b.timerMu.Lock()
		delete(b.timers, timer)
		b.timerMu.Unlock()

		b.logger.Debug("message dead-lettered",
			"queue", spec.Name,
			"routing_key", spec.DeadLetterRoutingKey,
			"death_count", deaths+1)
		err := b.route(spec.DeadLetterRoutingKey, body, deaths+1)
		if err != nil && !errors.Is(err, ErrBrokerClosed) {
			b.logger.Error("failed to dead-letter message",
				"queue", spec.Name,
				"error", err)
		}
	})
	b.timers[timer] = spec.Name
	b.logger.Debug("message delayed",
		"queue", spec.Name,
		"source_routing_key", routingKey,
		"ttl", spec.TTL)
}

// enqueue adds d to its queue without blocking. Callers hold b.mu.
func (b *MemoryBroker) enqueue(d *Delivery) error {
	ch := b.queues[d.Queue]
	select {
	case ch <- d:
		b.logger.Debug("message enqueued",
			"queue", d.Queue,
			"routing_key", d.RoutingKey,
			"queue_len", len(ch),
			"queue_cap", cap(ch))
		return nil
	default:
		return fmt.Errorf("%w: queue %s capacity %d reached", ErrQueueFull, d.Queue, cap(ch))
	}
}

// requeue puts d back on its queue unless the broker has closed.
func (b *MemoryBroker) requeue(d *Delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return b.enqueue(d)
}

func (b *MemoryBroker) newDelivery(queue, routingKey string, body []byte, deaths int, redelivered bool) *Delivery {
	return NewDelivery(queue, routingKey, body, deaths, redelivered,
		func() error { return nil },
		func(requeue bool) error {
			if !requeue {
				b.logger.Debug("message rejected", "queue", queue, "routing_key", routingKey)
				return nil
			}
			b.mu.RLock()
			defer b.mu.RUnlock()
			if b.closed {
				return ErrBrokerClosed
			}
			return b.enqueue(b.newDelivery(queue, routingKey, body, deaths, true))
		})
}

// Consume implements Consumer.Consume. Consumers of the same queue compete
// for its messages.
func (b *MemoryBroker) Consume(ctx context.Context, queue string) (<-chan *Delivery, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	src, ok := b.queues[queue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- d:
				case <-ctx.Done():
					// Hand the message back untouched so another consumer can take it.
					_ = b.requeue(b.newDelivery(d.Queue, d.RoutingKey, d.Body, d.DeathCount, d.Redelivered))
					return
				}
			}
		}
	}()
	return out, nil
}

// Pending returns how many messages are waiting in queue, counting
// messages parked in a TTL queue.
func (b *MemoryBroker) Pending(queue string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if spec, ok := b.specs[queue]; ok && spec.TTL > 0 {
		b.timerMu.Lock()
		defer b.timerMu.Unlock()
		n := 0
		for _, name := range b.timers {
			if name == queue {
				n++
			}
		}
		return n
	}
	return len(b.queues[queue])
}

// Close stops delay timers and closes every queue.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	b.timerMu.Lock()
	for timer := range b.timers {
		timer.Stop()
	}
	b.timers = make(map[*time.Timer]string)
	b.timerMu.Unlock()

	for _, ch := range b.queues {
		close(ch)
	}
	b.logger.Info("memory broker closed", "exchange", b.exchange)
	return nil
}
