package services

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/observability"
	"chat-relay/repositories"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type chatServiceMocks struct {
	verifier    *mocks.MockICredentialVerifier
	users       *mocks.MockIUserRepository
	memberships *mocks.MockIMembershipRepository
	messages    *mocks.MockIMessageRepository
	registry    *mocks.MockIRegistry
	relay       *mocks.MockIRelay
}

func newTestChatService(t *testing.T, censor Censor, timeout time.Duration) (*ChatService, chatServiceMocks) {
	ctrl := gomock.NewController(t)
	m := chatServiceMocks{
		verifier:    mocks.NewMockICredentialVerifier(ctrl),
		users:       mocks.NewMockIUserRepository(ctrl),
		memberships: mocks.NewMockIMembershipRepository(ctrl),
		messages:    mocks.NewMockIMessageRepository(ctrl),
		registry:    mocks.NewMockIRegistry(ctrl),
		relay:       mocks.NewMockIRelay(ctrl),
	}
	svc := NewChatService(m.verifier, m.users, m.memberships, m.messages, m.registry, m.relay,
		censor, observability.NewMetrics(prometheus.NewRegistry()), slog.Default(), timeout)
	return svc, m
}

func TestChatService_Authenticate(t *testing.T) {
	john := chat.User{ID: 5, Username: "john_doe"}

	t.Run("should resolve a valid token to its user", func(t *testing.T) {
		req := require.New(t)
		svc, m := newTestChatService(t, nil, time.Second)
		m.verifier.EXPECT().Verify("good").Return(john.ID, nil)
		m.users.EXPECT().GetUser(gomock.Any(), john.ID).Return(john, nil)

		user, err := svc.Authenticate(context.Background(), "good")
		req.NoError(err)
		req.Equal(john, user)
	})

	t.Run("should reject an invalid token without touching storage", func(t *testing.T) {
		req := require.New(t)
		svc, m := newTestChatService(t, nil, time.Second)
		m.verifier.EXPECT().Verify("bad").Return(chat.UserID(0), errors.ErrInvalidCredentials)
		m.users.EXPECT().GetUser(gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Authenticate(context.Background(), "bad")
		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})

	t.Run("should reject a token of a deleted user", func(t *testing.T) {
		req := require.New(t)
		svc, m := newTestChatService(t, nil, time.Second)
		m.verifier.EXPECT().Verify("orphan").Return(chat.UserID(9), nil)
		m.users.EXPECT().GetUser(gomock.Any(), chat.UserID(9)).Return(chat.User{}, errors.ErrUserNotFound)

		_, err := svc.Authenticate(context.Background(), "orphan")
		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})

	t.Run("should time out on a slow user lookup", func(t *testing.T) {
		req := require.New(t)
		svc, m := newTestChatService(t, nil, 20*time.Millisecond)
		m.verifier.EXPECT().Verify("good").Return(john.ID, nil)
		m.users.EXPECT().GetUser(gomock.Any(), john.ID).DoAndReturn(
			func(ctx context.Context, _ chat.UserID) (chat.User, error) {
				time.Sleep(200 * time.Millisecond)
				return john, nil
			})

		_, err := svc.Authenticate(context.Background(), "good")
		req.ErrorIs(err, errors.ErrCollaboratorTimeout)
	})
}

func TestChatService_Authorize(t *testing.T) {
	t.Run("should accept a member", func(t *testing.T) {
		svc, m := newTestChatService(t, nil, time.Second)
		m.memberships.EXPECT().IsMember(gomock.Any(), chat.UserID(5), chat.RoomID(7)).Return(true, nil)
		require.NoError(t, svc.Authorize(context.Background(), 5, 7))
	})

	t.Run("should refuse a non member", func(t *testing.T) {
		svc, m := newTestChatService(t, nil, time.Second)
		m.memberships.EXPECT().IsMember(gomock.Any(), chat.UserID(6), chat.RoomID(7)).Return(false, nil)
		require.ErrorIs(t, svc.Authorize(context.Background(), 6, 7), errors.ErrNotRoomMember)
	})

	t.Run("should map a context deadline to a timeout", func(t *testing.T) {
		svc, m := newTestChatService(t, nil, 20*time.Millisecond)
		m.memberships.EXPECT().IsMember(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ chat.UserID, _ chat.RoomID) (bool, error) {
				<-ctx.Done()
				return false, ctx.Err()
			})
		require.ErrorIs(t, svc.Authorize(context.Background(), 5, 7), errors.ErrCollaboratorTimeout)
	})
}

func TestChatService_SendMessage(t *testing.T) {
	sender := chat.User{ID: 5, Username: "john_doe"}
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should persist then publish", func(t *testing.T) {
		req := require.New(t)
		svc, m := newTestChatService(t, nil, time.Second)

		stored := chat.Message{ID: 12, RoomID: 7, SenderID: 5, Content: "hi", Type: chat.MessageTypeText, CreatedAt: at}
		m.messages.EXPECT().
			StoreMessage(gomock.Any(), repositories.NewMessage{Room: 7, Sender: 5, Content: "hi", Type: chat.MessageTypeText}).
			Return(stored, nil)
		m.relay.EXPECT().Publish(gomock.Any(), chat.RoomID(7), gomock.Any()).Do(
			func(_ context.Context, _ chat.RoomID, payload []byte) {
				var event chat.MessageEvent
				req.NoError(chat.Decode(payload, &event))
				req.Equal(chat.FrameMessage, event.Type)
				req.Equal(int64(12), event.Data.ID)
				req.Equal("john_doe", event.Data.SenderUsername)
				req.Equal("hi", event.Data.Content)
			})

		message, err := svc.SendMessage(context.Background(), chat.PostMessageCommand{
			Room: 7, Sender: sender, Content: "hi", Type: chat.MessageTypeText,
		})
		req.NoError(err)
		req.Equal("john_doe", message.SenderUsername)
	})

	t.Run("should not publish when the store fails", func(t *testing.T) {
		req := require.New(t)
		svc, m := newTestChatService(t, nil, time.Second)
		m.messages.EXPECT().StoreMessage(gomock.Any(), gomock.Any()).Return(chat.Message{}, context.Canceled)
		m.relay.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.SendMessage(context.Background(), chat.PostMessageCommand{Room: 7, Sender: sender, Content: "hi"})
		req.ErrorIs(err, context.Canceled)
	})

	t.Run("should report a slow store as timed out without publishing", func(t *testing.T) {
		req := require.New(t)
		svc, m := newTestChatService(t, nil, 20*time.Millisecond)
		m.messages.EXPECT().StoreMessage(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ repositories.NewMessage) (chat.Message, error) {
				time.Sleep(200 * time.Millisecond)
				return chat.Message{ID: 1}, nil
			})
		m.relay.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.SendMessage(context.Background(), chat.PostMessageCommand{Room: 7, Sender: sender, Content: "hi"})
		req.ErrorIs(err, errors.ErrMessageNotStored)
		req.ErrorIs(err, errors.ErrCollaboratorTimeout)
		// Reported on the connection, which stays open
		req.Equal("Request timed out", errors.ClientMessage(err))
	})

	t.Run("should censor before persisting", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		censor := mocks.NewMockCensor(ctrl)
		svc, m := newTestChatService(t, censor, time.Second)

		censor.EXPECT().Censor("a badger").Return("a ******", true)
		m.messages.EXPECT().
			StoreMessage(gomock.Any(), repositories.NewMessage{Room: 7, Sender: 5, Content: "a ******"}).
			Return(chat.Message{ID: 1, RoomID: 7, SenderID: 5, Content: "a ******"}, nil)
		m.relay.EXPECT().Publish(gomock.Any(), chat.RoomID(7), gomock.Any())

		message, err := svc.SendMessage(context.Background(), chat.PostMessageCommand{Room: 7, Sender: sender, Content: "a badger"})
		req.NoError(err)
		req.Equal("a ******", message.Content)
	})
}

func TestChatService_SendTyping(t *testing.T) {
	sender := chat.User{ID: 5, Username: "john_doe"}

	t.Run("should relay to a room the user belongs to", func(t *testing.T) {
		req := require.New(t)
		svc, m := newTestChatService(t, nil, time.Second)
		m.memberships.EXPECT().IsMember(gomock.Any(), chat.UserID(5), chat.RoomID(7)).Return(true, nil)
		m.relay.EXPECT().Publish(gomock.Any(), chat.RoomID(7), gomock.Any()).Do(
			func(_ context.Context, _ chat.RoomID, payload []byte) {
				req.JSONEq(`{"type":"typing","room_id":7,"user_id":5,"username":"john_doe","is_typing":true}`, string(payload))
			})

		req.NoError(svc.SendTyping(context.Background(), chat.TypingCommand{Room: 7, Sender: sender, IsTyping: true}))
	})

	t.Run("should not relay to a foreign room", func(t *testing.T) {
		req := require.New(t)
		svc, m := newTestChatService(t, nil, time.Second)
		m.memberships.EXPECT().IsMember(gomock.Any(), chat.UserID(5), chat.RoomID(8)).Return(false, nil)
		m.relay.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		err := svc.SendTyping(context.Background(), chat.TypingCommand{Room: 8, Sender: sender, IsTyping: true})
		req.ErrorIs(err, errors.ErrNotRoomMember)
	})
}

func TestChatService_JoinLeave(t *testing.T) {
	req := require.New(t)
	svc, m := newTestChatService(t, nil, time.Second)
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockConnection(ctrl)

	m.registry.EXPECT().Register(gomock.Any(), chat.RoomID(7), conn).Return(nil)
	m.registry.EXPECT().Deregister(gomock.Any(), chat.RoomID(7), conn)

	req.NoError(svc.Join(context.Background(), 7, conn))
	svc.Leave(context.Background(), 7, conn)
}
