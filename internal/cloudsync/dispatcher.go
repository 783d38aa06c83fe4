package cloudsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/carsync-api/internal/queue"
	"github.com/phrazzld/carsync-api/internal/store"
)

// Dispatcher publishes sync requests.
type Dispatcher struct {
	publisher queue.Publisher
	vehicles  store.VehicleStore
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. vehicles is only needed by ResyncAll.
func NewDispatcher(publisher queue.Publisher, vehicles store.VehicleStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		publisher: publisher,
		vehicles:  vehicles,
		logger:    logger.With(slog.String("component", "sync_dispatcher")),
	}
}

// PublishSyncRequest asks for an immediate sync of vehicleID.
func (d *Dispatcher) PublishSyncRequest(ctx context.Context, vehicleID string) error {
	if err := d.publisher.Publish(ctx, queue.SyncRoutingKey, []byte(vehicleID)); err != nil {
		return fmt.Errorf("failed to publish sync request: %w", err)
	}
	d.logger.Debug("sync requested", slog.String("vehicle_id", vehicleID))
	return nil
}

// PublishToDelayQueue parks a sync of vehicleID until the delay queue's TTL
// returns it to cloud.sync. deathCount is the number of delay cycles the
// request has already been through.
func (d *Dispatcher) PublishToDelayQueue(ctx context.Context, vehicleID string, deathCount int) error {
	body := []byte(vehicleID)
	var err error
	if rp, ok := d.publisher.(queue.RetryPublisher); ok {
		err = rp.PublishRetry(ctx, queue.SyncDelayRoutingKey, body, deathCount)
	} else {
		err = d.publisher.Publish(ctx, queue.SyncDelayRoutingKey, body)
	}
	if err != nil {
		return fmt.Errorf("failed to publish delayed sync: %w", err)
	}
	d.logger.Debug("sync delayed",
		slog.String("vehicle_id", vehicleID),
		slog.Int("death_count", deathCount))
	return nil
}

// ResyncAll requests a sync of every linked vehicle and returns how many
// requests were published.
func (d *Dispatcher) ResyncAll(ctx context.Context) (int, error) {
	vehicles, err := d.vehicles.ListLinked(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list linked vehicles: %w", err)
	}

	published := 0
	for _, v := range vehicles {
		if err := d.PublishSyncRequest(ctx, v.ID); err != nil {
			d.logger.Error("failed to request resync",
				slog.String("vehicle_id", v.ID),
				slog.String("error", err.Error()))
			continue
		}
		published++
	}

	d.logger.Info("resync requested", slog.Int("published", published), slog.Int("linked", len(vehicles)))
	return published, nil
}
