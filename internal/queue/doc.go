// Package queue defines the broker abstraction used by the task pipelines.
//
// Producers publish to a topic exchange by routing key and consumers read
// acknowledged deliveries from named queues. The package also carries the
// queue topology shared by every broker implementation, the retry envelope
// derived from a message's death count, and an in-memory broker that
// emulates the delay queue's TTL and dead-lettering in a single process.
package queue
