package fanout

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus propagates room payloads through redis pub/sub.
// A single PubSub connection carries every room of the process; rooms are added and
// removed on it as the registry gains its first or loses its last local connection.
type RedisBus struct {
	client     *redis.Client
	pubsub     *redis.PubSub
	prefix     string
	log        *slog.Logger
	deliveries chan contract.Delivery
	done       chan struct{}
	closeOnce  sync.Once
}

func NewRedisBus(ctx context.Context, client *redis.Client, prefix string, bufferSize int, log *slog.Logger) *RedisBus {
	// No channel yet: rooms are subscribed on demand
	pubsub := client.Subscribe(ctx)
	b := &RedisBus{
		client:     client,
		pubsub:     pubsub,
		prefix:     prefix,
		log:        log,
		deliveries: make(chan contract.Delivery, bufferSize),
		done:       make(chan struct{}),
	}
	go b.stream(pubsub.Channel(redis.WithChannelSize(bufferSize)))
	return b
}

func (b *RedisBus) Publish(ctx context.Context, room chat.RoomID, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel(room), payload).Err(); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", errors.ErrBusUnavailable, b.channel(room), err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, room chat.RoomID) error {
	if err := b.pubsub.Subscribe(ctx, b.channel(room)); err != nil {
		return fmt.Errorf("%w: subscribe to %s: %v", errors.ErrBusUnavailable, b.channel(room), err)
	}
	b.log.Debug("Subscribed to room channel", "room_id", room, "channel", b.channel(room))
	return nil
}

func (b *RedisBus) Unsubscribe(ctx context.Context, room chat.RoomID) error {
	if err := b.pubsub.Unsubscribe(ctx, b.channel(room)); err != nil {
		return fmt.Errorf("%w: unsubscribe from %s: %v", errors.ErrBusUnavailable, b.channel(room), err)
	}
	b.log.Debug("Unsubscribed from room channel", "room_id", room, "channel", b.channel(room))
	return nil
}

func (b *RedisBus) Deliveries() <-chan contract.Delivery {
	return b.deliveries
}

// Close stops the listening loop. The redis client is left open for its owner.
func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.pubsub.Close()
	})
	return err
}

// stream forwards every message of the shared PubSub to Deliveries until the PubSub is closed.
func (b *RedisBus) stream(messages <-chan *redis.Message) {
	defer close(b.deliveries)
	for msg := range messages {
		room, ok := b.roomOf(msg.Channel)
		if !ok {
			b.log.Warn("Dropping payload from unexpected channel", "channel", msg.Channel)
			continue
		}
		select {
		case b.deliveries <- contract.Delivery{Room: room, Payload: []byte(msg.Payload)}:
		case <-b.done:
			return
		}
	}
}

func (b *RedisBus) channel(room chat.RoomID) string {
	return b.prefix + room.String()
}

func (b *RedisBus) roomOf(channel string) (chat.RoomID, bool) {
	if !strings.HasPrefix(channel, b.prefix) {
		return 0, false
	}
	return chat.ParseRoomID(strings.TrimPrefix(channel, b.prefix))
}
