package fanout

import (
	"chat-relay/contract"
	"context"
	"log/slog"
)

// Listener drains the bus into the local registry. It runs under the supervisor,
// one per process.
type Listener struct {
	bus      contract.IBus
	registry contract.IRegistry
	log      *slog.Logger
}

func NewListener(bus contract.IBus, registry contract.IRegistry, log *slog.Logger) *Listener {
	return &Listener{bus: bus, registry: registry, log: log}
}

// Run returns nil when the context is cancelled or the bus is closed.
// Deliveries for rooms without local connections are dropped by the registry.
func (l *Listener) Run(ctx context.Context) error {
	l.log.Info("Starting fan-out listener")
	deliveries := l.bus.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				l.log.Info("Fan-out bus closed, listener stopping")
				return nil
			}
			delivered := l.registry.Broadcast(ctx, delivery.Room, delivery.Payload)
			l.log.Debug("Relayed bus delivery", "room_id", delivery.Room, "delivered", delivered)
		}
	}
}
