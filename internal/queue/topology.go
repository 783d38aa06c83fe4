package queue

import (
	"strings"
	"time"

	"github.com/phrazzld/carsync-api/internal/domain"
)

// Names of the exchange, queues and routing keys shared by all brokers.
const (
	DefaultExchange = "carsync.tasks"

	DiagnosisQueue      = "diagnosis.tasks"
	DiagnosisBindingKey = "ai.diagnosis.#"

	SyncQueue      = "cloud.sync"
	SyncRoutingKey = "cloud.sync"

	SyncDelayQueue      = "cloud.sync.delay"
	SyncDelayRoutingKey = "cloud.sync.delay"

	DefaultDelayTTL = 15 * time.Second
	DefaultMaxRetry = 3
)

// DiagnosisRoutingKey returns the routing key for a diagnosis task raised by trigger.
func DiagnosisRoutingKey(trigger domain.TriggerKind) string {
	return "ai.diagnosis." + strings.ToLower(string(trigger))
}

// QueueSpec describes a durable queue and how it is bound to the exchange.
type QueueSpec struct {
	Name       string
	BindingKey string

	// TTL, when set, expires messages that sit in the queue that long and
	// dead-letters them to the exchange with DeadLetterRoutingKey.
	TTL                  time.Duration
	DeadLetterRoutingKey string
}

// Topology is the full set of queues declared on the exchange.
type Topology struct {
	Exchange string
	Queues   []QueueSpec
}

// DefaultTopology returns the diagnosis, sync, and sync delay queues.
// A zero delayTTL selects DefaultDelayTTL.
func DefaultTopology(exchange string, delayTTL time.Duration) Topology {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if delayTTL <= 0 {
		delayTTL = DefaultDelayTTL
	}
	return Topology{
		Exchange: exchange,
		Queues: []QueueSpec{
			{Name: DiagnosisQueue, BindingKey: DiagnosisBindingKey},
			{Name: SyncQueue, BindingKey: SyncRoutingKey},
			{
				Name:                 SyncDelayQueue,
				BindingKey:           SyncDelayRoutingKey,
				TTL:                  delayTTL,
				DeadLetterRoutingKey: SyncRoutingKey,
			},
		},
	}
}

// MatchTopic reports whether routingKey matches an AMQP topic binding
// pattern, where "*" matches one dot-separated word and "#" matches zero
// or more words.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
