package fanout

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/observability"
	"context"
	"log/slog"
	"time"
)

// Relay is the publish side of the fan-out path. The bus is an optimisation for
// reaching other processes: when it cannot carry a payload, local connections are
// served directly and the failure is only logged. A publish never waits on the bus
// longer than timeout.
type Relay struct {
	bus      contract.IBus
	registry contract.IRegistry
	metrics  *observability.Metrics
	timeout  time.Duration
	log      *slog.Logger
}

func NewRelay(bus contract.IBus, registry contract.IRegistry, metrics *observability.Metrics,
	timeout time.Duration, log *slog.Logger) *Relay {
	return &Relay{bus: bus, registry: registry, metrics: metrics, timeout: timeout, log: log}
}

func (r *Relay) Publish(ctx context.Context, room chat.RoomID, payload []byte) {
	// Without a live subscription the bus would not deliver back to this process
	if !r.registry.Subscribed(room) {
		if err := r.publish(ctx, room, payload); err != nil {
			r.metrics.BusPublishFailed()
			r.log.Warn("Bus publish failed", "room_id", room, "error", err)
		}
		r.registry.Broadcast(ctx, room, payload)
		return
	}

	if err := r.publish(ctx, room, payload); err != nil {
		r.metrics.BusPublishFailed()
		r.log.Warn("Bus publish failed, delivering locally", "room_id", room, "error", err)
		r.registry.Broadcast(ctx, room, payload)
	}
}

func (r *Relay) publish(ctx context.Context, room chat.RoomID, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.bus.Publish(ctx, room, payload)
}
