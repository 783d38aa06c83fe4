// Package amqp implements the task queue broker on RabbitMQ using
// github.com/rabbitmq/amqp091-go.
//
// NewBroker declares the topic exchange and every queue of a
// queue.Topology, including the TTL delay queue that dead-letters back to
// the exchange. Deliveries are adapted to queue.Delivery with the death
// count read from the x-death header plus the prior count a
// republished message carries in queue.PriorDeathsHeader.
package amqp
