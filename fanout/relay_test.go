package fanout

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/observability"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func TestRelay_PublishesThroughTheBus(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockIBus(ctrl)
	registry := mocks.NewMockIRegistry(ctrl)
	payload := []byte("hi")

	registry.EXPECT().Subscribed(chat.RoomID(7)).Return(true)
	bus.EXPECT().Publish(gomock.Any(), chat.RoomID(7), payload).Return(nil)
	// The bus delivers back to this process, so no direct broadcast
	registry.EXPECT().Broadcast(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	NewRelay(bus, registry, newTestMetrics(), time.Second, slog.Default()).Publish(context.Background(), 7, payload)
}

func TestRelay_FallsBackToLocalBroadcastWhenBusFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockIBus(ctrl)
	registry := mocks.NewMockIRegistry(ctrl)
	payload := []byte("hi")

	registry.EXPECT().Subscribed(chat.RoomID(7)).Return(true)
	bus.EXPECT().Publish(gomock.Any(), chat.RoomID(7), payload).Return(errors.ErrBusUnavailable)
	registry.EXPECT().Broadcast(gomock.Any(), chat.RoomID(7), payload).Return(2)

	NewRelay(bus, registry, newTestMetrics(), time.Second, slog.Default()).Publish(context.Background(), 7, payload)
}

func TestRelay_BoundsASlowBusAndDeliversLocally(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockIBus(ctrl)
	registry := mocks.NewMockIRegistry(ctrl)
	payload := []byte("hi")

	registry.EXPECT().Subscribed(chat.RoomID(7)).Return(true)
	bus.EXPECT().Publish(gomock.Any(), chat.RoomID(7), payload).DoAndReturn(
		func(ctx context.Context, _ chat.RoomID, _ []byte) error {
			// An unreachable broker that only gives up with the caller's context
			<-ctx.Done()
			return ctx.Err()
		})
	registry.EXPECT().Broadcast(gomock.Any(), chat.RoomID(7), payload).Return(1)

	start := time.Now()
	NewRelay(bus, registry, newTestMetrics(), 50*time.Millisecond, slog.Default()).
		Publish(context.Background(), 7, payload)
	req.Less(time.Since(start), time.Second)
}

func TestRelay_BroadcastsLocallyWhenRoomIsNotSubscribed(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockIBus(ctrl)
	registry := mocks.NewMockIRegistry(ctrl)
	payload := []byte("typing")

	registry.EXPECT().Subscribed(chat.RoomID(9)).Return(false)
	bus.EXPECT().Publish(gomock.Any(), chat.RoomID(9), payload).Return(nil)
	registry.EXPECT().Broadcast(gomock.Any(), chat.RoomID(9), payload).Return(0)

	NewRelay(bus, registry, newTestMetrics(), time.Second, slog.Default()).Publish(context.Background(), 9, payload)
}

func TestListener_DrainsBusIntoRegistry(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockIBus(ctrl)
	registry := mocks.NewMockIRegistry(ctrl)

	deliveries := make(chan contract.Delivery, 2)
	deliveries <- contract.Delivery{Room: 7, Payload: []byte("a")}
	deliveries <- contract.Delivery{Room: 8, Payload: []byte("b")}
	close(deliveries)

	bus.EXPECT().Deliveries().Return((<-chan contract.Delivery)(deliveries))
	gomock.InOrder(
		registry.EXPECT().Broadcast(gomock.Any(), chat.RoomID(7), []byte("a")).Return(1),
		registry.EXPECT().Broadcast(gomock.Any(), chat.RoomID(8), []byte("b")).Return(0),
	)

	done := make(chan error, 1)
	go func() { done <- NewListener(bus, registry, slog.Default()).Run(context.Background()) }()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("listener should stop once the bus is closed")
	}
}

func TestListener_StopsOnContextCancel(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockIBus(ctrl)
	registry := mocks.NewMockIRegistry(ctrl)

	bus.EXPECT().Deliveries().Return(make(<-chan contract.Delivery))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewListener(bus, registry, slog.Default()).Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("listener should stop on cancel")
	}
}
