package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// roomEntry holds the local connections of one room.
// Its lock serialises register, deregister and broadcast cleanup for that room only.
type roomEntry struct {
	mu         sync.RWMutex
	conns      map[string]contract.Connection
	subscribed bool
	// dead is set once the entry lost its last connection and left the rooms map.
	dead bool
}

// Registry maps rooms to their live local connections.
// The registry mutex only guards the rooms map; it is never held while a room lock is taken.
// Lock order is always room, then registry.
type Registry struct {
	mu         sync.Mutex
	rooms      map[chat.RoomID]*roomEntry
	subscriber contract.RoomSubscriber
	metrics    *observability.Metrics
	log        *slog.Logger
}

func NewRegistry(subscriber contract.RoomSubscriber, metrics *observability.Metrics, log *slog.Logger) *Registry {
	return &Registry{
		rooms:      make(map[chat.RoomID]*roomEntry),
		subscriber: subscriber,
		metrics:    metrics,
		log:        log,
	}
}

func (r *Registry) entry(room chat.RoomID, create bool) *roomEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[room]
	if !ok && create {
		e = &roomEntry{conns: make(map[string]contract.Connection)}
		r.rooms[room] = e
	}
	return e
}

// Register adds a connection to a room. The first local connection of a room
// subscribes the room on the bus before Register returns.
// A subscribe failure is logged and retried by the next Register; local delivery keeps working.
func (r *Registry) Register(ctx context.Context, room chat.RoomID, conn contract.Connection) error {
	for {
		e := r.entry(room, true)
		e.mu.Lock()
		if e.dead {
			// Lost a race with the last deregister, the next lookup sees a fresh entry
			e.mu.Unlock()
			continue
		}
		if _, ok := e.conns[conn.ID()]; ok {
			e.mu.Unlock()
			return errors.ErrAlreadyRegistered
		}
		e.conns[conn.ID()] = conn
		if !e.subscribed {
			if err := r.subscriber.Subscribe(ctx, room); err != nil {
				r.log.Warn("Unable to subscribe room on the bus", "room_id", room, "error", err)
			} else {
				e.subscribed = true
				r.metrics.RoomSubscribed()
			}
		}
		count := len(e.conns)
		e.mu.Unlock()
		r.log.Debug("Connection registered", "room_id", room, "conn_id", conn.ID(), "user_id", conn.UserID(), "count", count)
		return nil
	}
}

// Deregister removes a connection. It is a no-op for unknown connections, so session
// teardown and broadcast cleanup may both call it.
// The last local connection of a room unsubscribes the room.
func (r *Registry) Deregister(ctx context.Context, room chat.RoomID, conn contract.Connection) {
	e := r.entry(room, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	if current, ok := e.conns[conn.ID()]; !ok || current != conn {
		return
	}
	delete(e.conns, conn.ID())
	r.log.Debug("Connection deregistered", "room_id", room, "conn_id", conn.ID(), "count", len(e.conns))
	if len(e.conns) > 0 {
		return
	}

	if e.subscribed {
		// Teardown often runs with the session context already cancelled
		if err := r.subscriber.Unsubscribe(context.WithoutCancel(ctx), room); err != nil {
			r.log.Warn("Unable to unsubscribe room from the bus", "room_id", room, "error", err)
		}
		e.subscribed = false
		r.metrics.RoomUnsubscribed()
	}
	e.dead = true
	r.mu.Lock()
	if r.rooms[room] == e {
		delete(r.rooms, room)
	}
	r.mu.Unlock()
}

// Broadcast queues payload on every local connection of the room and returns how many accepted it.
// Connections whose send fails are deregistered and closed once the pass is over.
func (r *Registry) Broadcast(ctx context.Context, room chat.RoomID, payload []byte) int {
	e := r.entry(room, false)
	if e == nil {
		return 0
	}

	type failure struct {
		conn contract.Connection
		err  error
	}
	var failed []failure
	delivered := 0

	e.mu.RLock()
	for _, conn := range e.conns {
		if err := conn.Send(payload); err != nil {
			failed = append(failed, failure{conn: conn, err: err})
			continue
		}
		delivered++
	}
	e.mu.RUnlock()

	r.metrics.BroadcastDelivered(delivered)
	if len(failed) > 0 {
		r.metrics.BroadcastFailed(len(failed))
	}
	for _, f := range failed {
		r.log.Warn("Evicting connection after failed send", "room_id", room, "conn_id", f.conn.ID(), "error", f.err)
		r.Deregister(ctx, room, f.conn)
		if err := f.conn.Close(errors.CloseCode(f.err), "send failed"); err != nil {
			r.log.Debug("Close after failed send", "conn_id", f.conn.ID(), "error", err)
		}
	}
	return delivered
}

func (r *Registry) ConnectionsFor(room chat.RoomID) int {
	e := r.entry(room, false)
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.conns)
}

// Subscribed reports whether this process currently holds a live bus subscription for the room.
func (r *Registry) Subscribed(room chat.RoomID) bool {
	e := r.entry(room, false)
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.subscribed && !e.dead
}

// Rooms returns the rooms with at least one local connection, in ascending order.
func (r *Registry) Rooms() []chat.RoomID {
	r.mu.Lock()
	rooms := lo.Keys(r.rooms)
	r.mu.Unlock()
	slices.Sort(rooms)
	return rooms
}

// CloseAll closes every registered connection. Sessions deregister themselves as they unwind.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	entries := lo.Values(r.rooms)
	r.mu.Unlock()

	var conns []contract.Connection
	for _, e := range entries {
		e.mu.RLock()
		conns = append(conns, lo.Values(e.conns)...)
		e.mu.RUnlock()
	}
	for _, conn := range conns {
		if err := conn.Close(code, reason); err != nil {
			r.log.Debug("Close on shutdown", "conn_id", conn.ID(), "error", err)
		}
	}
}
