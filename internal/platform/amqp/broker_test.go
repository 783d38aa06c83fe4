package amqp

import (
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/carsync-api/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeathCount(t *testing.T) {
	t.Parallel()

	delay := map[string]bool{queue.SyncDelayQueue: true}

	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"no headers", nil, 0},
		{"wrong type", amqp.Table{"x-death": "bogus"}, 0},
		{"prior deaths only", amqp.Table{queue.PriorDeathsHeader: int64(2)}, 2},
		{
			name: "prior deaths plus expiry",
			headers: amqp.Table{
				queue.PriorDeathsHeader: int64(2),
				"x-death": []any{
					amqp.Table{"queue": queue.SyncDelayQueue, "reason": "expired", "count": int64(1)},
				},
			},
			want: 3,
		},
		{
			name: "delay queue count",
			headers: amqp.Table{"x-death": []any{
				amqp.Table{"queue": queue.SyncDelayQueue, "reason": "expired", "count": int64(2)},
			}},
			want: 2,
		},
		{
			name: "other queues ignored",
			headers: amqp.Table{"x-death": []any{
				amqp.Table{"queue": queue.SyncQueue, "reason": "rejected", "count": int64(4)},
				amqp.Table{"queue": queue.SyncDelayQueue, "reason": "expired", "count": int64(1)},
			}},
			want: 1,
		},
		{
			name: "multiple entries summed",
			headers: amqp.Table{"x-death": []any{
				amqp.Table{"queue": queue.SyncDelayQueue, "reason": "expired", "count": int64(1)},
				amqp.Table{"queue": queue.SyncDelayQueue, "reason": "maxlen", "count": int32(1)},
			}},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeathCount(tt.headers, delay))
		})
	}
}

type recordingDeclarer struct {
	exchanges []string
	queues    map[string]amqp.Table
	bindings  map[string]string
	failQueue string
}

func (r *recordingDeclarer) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	r.exchanges = append(r.exchanges, name+":"+kind)
	return nil
}

func (r *recordingDeclarer) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if name == r.failQueue {
		return amqp.Queue{}, errors.New("access refused")
	}
	r.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (r *recordingDeclarer) QueueBind(name, key, _ string, _ bool, _ amqp.Table) error {
	r.bindings[name] = key
	return nil
}

func TestDeclareTopology(t *testing.T) {
	t.Parallel()

	rec := &recordingDeclarer{queues: map[string]amqp.Table{}, bindings: map[string]string{}}
	require.NoError(t, declare(rec, queue.DefaultTopology("carsync.tasks", 15*time.Second)))

	assert.Equal(t, []string{"carsync.tasks:topic"}, rec.exchanges)
	assert.Equal(t, "ai.diagnosis.#", rec.bindings[queue.DiagnosisQueue])
	assert.Equal(t, "cloud.sync", rec.bindings[queue.SyncQueue])
	assert.Equal(t, "cloud.sync.delay", rec.bindings[queue.SyncDelayQueue])

	assert.Nil(t, rec.queues[queue.SyncQueue])
	assert.Equal(t, amqp.Table{
		"x-message-ttl":             int32(15000),
		"x-dead-letter-exchange":    "carsync.tasks",
		"x-dead-letter-routing-key": "cloud.sync",
	}, rec.queues[queue.SyncDelayQueue])
}

func TestDeclareTopologyError(t *testing.T) {
	t.Parallel()

	rec := &recordingDeclarer{
		queues:    map[string]amqp.Table{},
		bindings:  map[string]string{},
		failQueue: queue.SyncQueue,
	}
	err := declare(rec, queue.DefaultTopology("", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloud.sync")
}

func TestContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "application/json", contentType([]byte(`{"a":1}`)))
	assert.Equal(t, "text/plain", contentType([]byte("veh-1")))
	assert.Equal(t, "text/plain", contentType(nil))
}
