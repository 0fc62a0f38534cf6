package fanout

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalBus_DeliversOnlySubscribedRooms(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	bus := NewLocalBus(4)

	req.NoError(bus.Subscribe(ctx, 7))
	req.NoError(bus.Publish(ctx, 7, []byte("hi")))
	req.NoError(bus.Publish(ctx, 8, []byte("nobody listens")))

	d := <-bus.Deliveries()
	req.Equal(chat.RoomID(7), d.Room)
	req.Equal("hi", string(d.Payload))
	req.Empty(bus.Deliveries())

	req.NoError(bus.Unsubscribe(ctx, 7))
	req.NoError(bus.Publish(ctx, 7, []byte("dropped")))
	req.Empty(bus.Deliveries())
}

func TestLocalBus_FullBufferIsReported(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	bus := NewLocalBus(1)
	req.NoError(bus.Subscribe(ctx, 7))

	req.NoError(bus.Publish(ctx, 7, []byte("first")))
	req.ErrorIs(bus.Publish(ctx, 7, []byte("second")), errors.ErrBusUnavailable)
}

func TestLocalBus_Close(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	bus := NewLocalBus(1)
	req.NoError(bus.Subscribe(ctx, 7))
	req.NoError(bus.Close())
	req.NoError(bus.Close())

	_, ok := <-bus.Deliveries()
	req.False(ok)
	req.ErrorIs(bus.Publish(ctx, 7, []byte("late")), errors.ErrBusUnavailable)
	req.ErrorIs(bus.Subscribe(ctx, 8), errors.ErrBusUnavailable)
}
