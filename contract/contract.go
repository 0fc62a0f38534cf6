//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain/chat"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Connection is one live client session as seen by the registry.
// Send must not block: it either queues the payload or fails.
type Connection interface {
	ID() string
	UserID() chat.UserID
	Send(payload []byte) error
	Close(code int, reason string) error
}

// RoomSubscriber is notified of the first-join and last-leave transitions of a room.
type RoomSubscriber interface {
	Subscribe(ctx context.Context, room chat.RoomID) error
	Unsubscribe(ctx context.Context, room chat.RoomID) error
}

// Delivery is a payload received from the fan-out bus for one room.
type Delivery struct {
	Room    chat.RoomID
	Payload []byte
}

// IBus propagates room payloads to every process subscribed to the room, the publisher included.
type IBus interface {
	RoomSubscriber
	Publish(ctx context.Context, room chat.RoomID, payload []byte) error
	Deliveries() <-chan Delivery
	Close() error
}

type IRegistry interface {
	Register(ctx context.Context, room chat.RoomID, conn Connection) error
	Deregister(ctx context.Context, room chat.RoomID, conn Connection)
	Broadcast(ctx context.Context, room chat.RoomID, payload []byte) int
	ConnectionsFor(room chat.RoomID) int
	Subscribed(room chat.RoomID) bool
}

// IRelay hands an encoded room frame to the fan-out path. It never fails the caller.
type IRelay interface {
	Publish(ctx context.Context, room chat.RoomID, payload []byte)
}

type ICredentialVerifier interface {
	Verify(token string) (chat.UserID, error)
}
