package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/carsync-api/internal/queue"
)

// ErrPoolStarted is returned when a running ConsumerPool is started again or
// gets a new subscription.
var ErrPoolStarted = errors.New("consumer pool already started")

// Subscription binds a handler to a queue with a number of concurrent workers.
type Subscription struct {
	Queue   string
	Workers int
	Handler queue.Handler
}

// ConsumerPool runs worker goroutines that consume queues and settle each
// delivery according to its handler's result.
type ConsumerPool struct {
	// consumer provides the deliveries to be processed
	consumer queue.Consumer

	subs []Subscription

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is canceled by Stop, which also cancels in-flight handlers
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool

	logger *slog.Logger

	// errorHandler is called when a handler fails.
	// If nil, errors are only logged
	errorHandler func(d *queue.Delivery, err error)
}

// NewConsumerPool creates a pool reading from consumer.
func NewConsumerPool(consumer queue.Consumer, logger *slog.Logger) *ConsumerPool {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConsumerPool{
		consumer: consumer,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("component", "consumer_pool")),
	}
}

// SetErrorHandler allows setting a custom error handler for handler failures
func (p *ConsumerPool) SetErrorHandler(handler func(d *queue.Delivery, err error)) {
	p.errorHandler = handler
}

// Subscribe adds a subscription. A non-positive worker count is raised to 1.
func (p *ConsumerPool) Subscribe(sub Subscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrPoolStarted
	}
	if sub.Handler == nil {
		return fmt.Errorf("subscription to %s has no handler", sub.Queue)
	}
	if sub.Workers <= 0 {
		p.logger.Warn("invalid worker count specified, using default",
			"queue", sub.Queue,
			"specified_count", sub.Workers,
			"default_count", 1)
		sub.Workers = 1
	}
	p.subs = append(p.subs, sub)
	return nil
}

// Start opens a consumer per worker and begins processing. If any consumer
// cannot be opened, already started workers are stopped and the error is
// returned.
func (p *ConsumerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrPoolStarted
	}
	p.started = true

	for _, sub := range p.subs {
		for i := 0; i < sub.Workers; i++ {
			deliveries, err := p.consumer.Consume(p.ctx, sub.Queue)
			if err != nil {
				p.cancel()
				p.wg.Wait()
				return fmt.Errorf("failed to consume %s: %w", sub.Queue, err)
			}
			p.wg.Add(1)
			go p.worker(sub, i, deliveries)
		}
		p.logger.Info("consumers started", "queue", sub.Queue, "workers", sub.Workers)
	}
	return nil
}

// Stop cancels in-flight handlers and waits for every worker to return.
func (p *ConsumerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("consumer pool stopped")
}

func (p *ConsumerPool) worker(sub Subscription, id int, deliveries <-chan *queue.Delivery) {
	defer p.wg.Done()

	log := p.logger.With("queue", sub.Queue, "worker_id", id)
	log.Debug("starting worker")

	for {
		select {
		case <-p.ctx.Done():
			log.Debug("stopping worker")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Debug("delivery channel closed, stopping worker")
				return
			}
			p.process(sub.Handler, d, log)
		}
	}
}

// process runs handler and settles d. A failed delivery is requeued once;
// a failure on redelivery rejects it for good.
func (p *ConsumerPool) process(handler queue.Handler, d *queue.Delivery, log *slog.Logger) {
	err := p.invoke(handler, d)
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			log.Error("failed to acknowledge delivery", "error", ackErr)
		}
		return
	}

	requeue := !d.Redelivered
	log.Error("handler failed",
		"routing_key", d.RoutingKey,
		"redelivered", d.Redelivered,
		"requeue", requeue,
		"error", err)
	if nackErr := d.Nack(requeue); nackErr != nil {
		log.Error("failed to reject delivery", "error", nackErr)
	}
	if p.errorHandler != nil {
		p.errorHandler(d, err)
	}
}

func (p *ConsumerPool) invoke(handler queue.Handler, d *queue.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(p.ctx, d)
}
