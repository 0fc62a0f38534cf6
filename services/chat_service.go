//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/repositories"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"
)

type IChatService interface {
	Authenticate(ctx context.Context, token string) (chat.User, error)
	Authorize(ctx context.Context, user chat.UserID, room chat.RoomID) error
	Join(ctx context.Context, room chat.RoomID, conn contract.Connection) error
	Leave(ctx context.Context, room chat.RoomID, conn contract.Connection)
	SendMessage(ctx context.Context, cmd chat.PostMessageCommand) (chat.Message, error)
	SendTyping(ctx context.Context, cmd chat.TypingCommand) error
}

// Censor rewrites content before it is stored. Nil disables moderation.
type Censor interface {
	Censor(content string) (string, bool)
}

type ChatService struct {
	verifier    contract.ICredentialVerifier
	users       repositories.IUserRepository
	memberships repositories.IMembershipRepository
	messages    repositories.IMessageRepository
	registry    contract.IRegistry
	relay       contract.IRelay
	censor      Censor
	metrics     *observability.Metrics
	log         *slog.Logger
	timeout     time.Duration
}

func NewChatService(
	verifier contract.ICredentialVerifier,
	users repositories.IUserRepository,
	memberships repositories.IMembershipRepository,
	messages repositories.IMessageRepository,
	registry contract.IRegistry,
	relay contract.IRelay,
	censor Censor,
	metrics *observability.Metrics,
	log *slog.Logger,
	timeout time.Duration,
) *ChatService {
	return &ChatService{
		verifier:    verifier,
		users:       users,
		memberships: memberships,
		messages:    messages,
		registry:    registry,
		relay:       relay,
		censor:      censor,
		metrics:     metrics,
		log:         log,
		timeout:     timeout,
	}
}

// Authenticate resolves a bearer token to a known user.
// A valid token for a user that no longer exists is treated as invalid credentials.
func (s *ChatService) Authenticate(ctx context.Context, token string) (chat.User, error) {
	userID, err := s.verifier.Verify(token)
	if err != nil {
		return chat.User{}, err
	}
	user, err := withTimeout(ctx, s.timeout, func(ctx context.Context) (chat.User, error) {
		return s.users.GetUser(ctx, userID)
	})
	if stderrors.Is(err, errors.ErrUserNotFound) {
		return chat.User{}, fmt.Errorf("%w: %v", errors.ErrInvalidCredentials, err)
	}
	return user, err
}

func (s *ChatService) Authorize(ctx context.Context, user chat.UserID, room chat.RoomID) error {
	isMember, err := withTimeout(ctx, s.timeout, func(ctx context.Context) (bool, error) {
		return s.memberships.IsMember(ctx, user, room)
	})
	if err != nil {
		return err
	}
	if !isMember {
		return fmt.Errorf("%w: user %d, room %d", errors.ErrNotRoomMember, user, room)
	}
	return nil
}

func (s *ChatService) Join(ctx context.Context, room chat.RoomID, conn contract.Connection) error {
	return s.registry.Register(ctx, room, conn)
}

func (s *ChatService) Leave(ctx context.Context, room chat.RoomID, conn contract.Connection) {
	s.registry.Deregister(ctx, room, conn)
}

// SendMessage persists the message, then hands it to the fan-out path.
// Nothing is fanned out when the store fails.
func (s *ChatService) SendMessage(ctx context.Context, cmd chat.PostMessageCommand) (chat.Message, error) {
	content := cmd.Content
	if s.censor != nil {
		if censored, changed := s.censor.Censor(content); changed {
			s.log.Debug("Message content censored", "room_id", cmd.Room, "user_id", cmd.Sender.ID)
			content = censored
		}
	}

	message, err := withTimeout(ctx, s.timeout, func(ctx context.Context) (chat.Message, error) {
		return s.messages.StoreMessage(ctx, repositories.NewMessage{
			Room:    cmd.Room,
			Sender:  cmd.Sender.ID,
			Content: content,
			Type:    cmd.Type,
		})
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %w", errors.ErrMessageNotStored, err)
	}
	message.SenderUsername = cmd.Sender.Username
	s.metrics.MessagePersisted()

	payload, err := chat.Encode(chat.NewMessageEvent(message))
	if err != nil {
		// Stored but not deliverable in real time, still available through history
		s.log.Error("Unable to encode message event", "message_id", message.ID, "error", err)
		return message, nil
	}
	s.relay.Publish(ctx, cmd.Room, payload)
	return message, nil
}

// SendTyping relays a typing indicator to the room after a membership check. Nothing is stored.
func (s *ChatService) SendTyping(ctx context.Context, cmd chat.TypingCommand) error {
	if err := s.Authorize(ctx, cmd.Sender.ID, cmd.Room); err != nil {
		return err
	}
	payload, err := chat.Encode(chat.NewTypingEvent(cmd))
	if err != nil {
		return err
	}
	s.relay.Publish(ctx, cmd.Room, payload)
	return nil
}

// withTimeout bounds a collaborator call. The call keeps running in the background
// after a timeout, its result is discarded.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && stderrors.Is(r.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %v", errors.ErrCollaboratorTimeout, r.err)
		}
		return r.value, r.err
	case <-ctx.Done():
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", errors.ErrCollaboratorTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}
