package queue

import (
	"context"
	"errors"
	"sync"
)

// Common errors returned by brokers
var (
	ErrBrokerClosed = errors.New("broker is closed")
	ErrQueueFull    = errors.New("queue is full")
	ErrUnknownQueue = errors.New("unknown queue")
	ErrUnroutable   = errors.New("no queue bound for routing key")
)

// Publisher sends messages to the task exchange.
type Publisher interface {
	// Publish routes body to every queue bound to routingKey.
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// RetryPublisher republishes a message that has already been through
// deathCount delay cycles, so the count keeps growing across cycles even
// though each republish is a new message.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, routingKey string, body []byte, deathCount int) error
}

// PriorDeathsHeader carries the death count of a republished message.
const PriorDeathsHeader = "x-prior-deaths"

// Consumer reads deliveries from a named queue.
type Consumer interface {
	// Consume returns a channel of deliveries from queue. The channel is
	// closed when ctx is done or the broker shuts down. Every delivery must
	// be acknowledged or rejected exactly once.
	Consume(ctx context.Context, queue string) (<-chan *Delivery, error)
}

// Broker is a Publisher and Consumer with a lifecycle.
type Broker interface {
	Publisher
	Consumer
	Close() error
}

// Handler processes one delivery. A nil error acknowledges the message;
// a non-nil error hands it back to the broker's redelivery policy.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery is a message received from a queue.
type Delivery struct {
	Queue      string
	RoutingKey string
	Body       []byte

	// DeathCount is how many times the message has been dead-lettered out
	// of the delay queue.
	DeathCount int

	// Redelivered is set when the broker has delivered the message before.
	Redelivered bool

	once sync.Once
	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery creates a Delivery whose settlement is performed by ack and nack.
// Broker implementations use it to adapt their native messages.
func NewDelivery(queue, routingKey string, body []byte, deathCount int, redelivered bool,
	ack func() error, nack func(requeue bool) error,
) *Delivery {
	return &Delivery{
		Queue:       queue,
		RoutingKey:  routingKey,
		Body:        body,
		DeathCount:  deathCount,
		Redelivered: redelivered,
		ack:         ack,
		nack:        nack,
	}
}

// Ack acknowledges the delivery. Only the first settlement takes effect.
func (d *Delivery) Ack() error {
	var err error
	d.once.Do(func() {
		if d.ack != nil {
			err = d.ack()
		}
	})
	return err
}

// Nack rejects the delivery, returning it to its queue when requeue is set.
// Only the first settlement takes effect.
func (d *Delivery) Nack(requeue bool) error {
	var err error
	d.once.Do(func() {
		if d.nack != nil {
			err = d.nack(requeue)
		}
	})
	return err
}
