package fanout

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"fmt"
	"sync"
)

// LocalBus is the single-process bus used when no redis address is configured.
// Payloads for rooms nobody subscribed to are dropped, like a redis PUBLISH without listeners.
type LocalBus struct {
	mu         sync.RWMutex
	rooms      map[chat.RoomID]struct{}
	deliveries chan contract.Delivery
	closed     bool
}

func NewLocalBus(bufferSize int) *LocalBus {
	return &LocalBus{
		rooms:      make(map[chat.RoomID]struct{}),
		deliveries: make(chan contract.Delivery, bufferSize),
	}
}

// Publish never blocks: a full buffer is reported so the caller can deliver locally.
func (b *LocalBus) Publish(ctx context.Context, room chat.RoomID, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("%w: closed", errors.ErrBusUnavailable)
	}
	if _, ok := b.rooms[room]; !ok {
		return nil
	}
	select {
	case b.deliveries <- contract.Delivery{Room: room, Payload: payload}:
		return nil
	default:
		return fmt.Errorf("%w: buffer full", errors.ErrBusUnavailable)
	}
}

func (b *LocalBus) Subscribe(_ context.Context, room chat.RoomID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: closed", errors.ErrBusUnavailable)
	}
	b.rooms[room] = struct{}{}
	return nil
}

func (b *LocalBus) Unsubscribe(_ context.Context, room chat.RoomID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, room)
	return nil
}

func (b *LocalBus) Deliveries() <-chan contract.Delivery {
	return b.deliveries
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.deliveries)
	}
	return nil
}
