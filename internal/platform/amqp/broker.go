package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/carsync-api/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is a queue.Broker backed by a RabbitMQ connection.
type Broker struct {
	conn     *amqp.Connection
	topology queue.Topology
	prefetch int
	logger   *slog.Logger

	// Publishing goes through a single channel guarded by pubMu.
	pubMu sync.Mutex
	pubCh *amqp.Channel
}

var (
	_ queue.Broker         = (*Broker)(nil)
	_ queue.RetryPublisher = (*Broker)(nil)
)

// NewBroker dials url, declares topology and returns a ready Broker.
// prefetch bounds how many unacknowledged deliveries each consumer holds.
func NewBroker(url string, topology queue.Topology, prefetch int, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if prefetch < 1 {
		prefetch = 1
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}

	if err := declare(ch, topology); err != nil {
		_ = conn.Close()
		return nil, err
	}

	b := &Broker{
		conn:     conn,
		topology: topology,
		prefetch: prefetch,
		logger:   logger.With(slog.String("component", "amqp_broker")),
		pubCh:    ch,
	}
	b.logger.Info("broker topology declared",
		"exchange", topology.Exchange,
		"queues", len(topology.Queues))
	return b, nil
}

// declarer is the subset of *amqp.Channel used to declare topology.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

func declare(ch declarer, topology queue.Topology) error {
	if err := ch.ExchangeDeclare(topology.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", topology.Exchange, err)
	}
	for _, spec := range topology.Queues {
		if _, err := ch.QueueDeclare(spec.Name, true, false, false, false, queueArgs(topology.Exchange, spec)); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", spec.Name, err)
		}
		if err := ch.QueueBind(spec.Name, spec.BindingKey, topology.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", spec.Name, err)
		}
	}
	return nil
}

// queueArgs returns the declaration arguments of a TTL queue, or nil.
func queueArgs(exchange string, spec queue.QueueSpec) amqp.Table {
	if spec.TTL <= 0 {
		return nil
	}
	return amqp.Table{
		"x-message-ttl":             int32(spec.TTL / time.Millisecond),
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": spec.DeadLetterRoutingKey,
	}
}

// Publish implements queue.Publisher.Publish. Messages are persistent.
func (b *Broker) Publish(ctx context.Context, routingKey string, body []byte) error {
	return b.publish(ctx, routingKey, body, nil)
}

// PublishRetry implements queue.RetryPublisher.PublishRetry. The prior
// count travels in a header because x-death starts over on a new message.
func (b *Broker) PublishRetry(ctx context.Context, routingKey string, body []byte, deathCount int) error {
	var headers amqp.Table
	if deathCount > 0 {
		headers = amqp.Table{queue.PriorDeathsHeader: int64(deathCount)}
	}
	return b.publish(ctx, routingKey, body, headers)
}

func (b *Broker) publish(ctx context.Context, routingKey string, body []byte, headers amqp.Table) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	err := b.pubCh.PublishWithContext(ctx, b.topology.Exchange, routingKey, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  contentType(body),
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}
	return nil
}

// Consume implements queue.Consumer.Consume. Each call opens its own
// channel with the configured prefetch, closed again when ctx is done.
func (b *Broker) Consume(ctx context.Context, name string) (<-chan *queue.Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}
	msgs, err := ch.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", name, err)
	}

	delayQueues := b.delayQueues()
	out := make(chan *queue.Delivery)
	go func() {
		defer close(out)
		defer func() { _ = ch.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					b.logger.Warn("consumer channel closed by broker", "queue", name)
					return
				}
				select {
				case out <- adapt(name, m, delayQueues):
				case <-ctx.Done():
					_ = m.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Broker) delayQueues() map[string]bool {
	names := make(map[string]bool)
	for _, spec := range b.topology.Queues {
		if spec.TTL > 0 {
			names[spec.Name] = true
		}
	}
	return names
}

// Close closes the connection and every channel opened on it.
func (b *Broker) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

func adapt(name string, m amqp.Delivery, delayQueues map[string]bool) *queue.Delivery {
	return queue.NewDelivery(name, m.RoutingKey, m.Body, DeathCount(m.Headers, delayQueues), m.Redelivered,
		func() error { return m.Ack(false) },
		func(requeue bool) error { return m.Nack(false, requeue) },
	)
}

// DeathCount sums the x-death counts recorded for the given queues and the
// prior count of a republished message.
func DeathCount(headers amqp.Table, queues map[string]bool) int {
	total := toInt(headers[queue.PriorDeathsHeader])

	deaths, ok := headers["x-death"].([]any)
	if !ok {
		return total
	}
	for _, entry := range deaths {
		table, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		if q, _ := table["queue"].(string); !queues[q] {
			continue
		}
		total += toInt(table["count"])
	}
	return total
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func contentType(body []byte) string {
	if len(body) > 0 && (body[0] == '{' || body[0] == '[') {
		return "application/json"
	}
	return "text/plain"
}
