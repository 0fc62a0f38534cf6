package ws

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/services"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type State int

const (
	Connecting State = iota
	Authenticating
	Authorizing
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Authorizing:
		return "authorizing"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type presenceSet interface {
	Add(conn contract.Connection) error
	Remove(conn contract.Connection)
}

// Session drives one connection from handshake to teardown.
// Frames of a connection are handled one at a time, in arrival order.
type Session struct {
	scope            chat.Scope
	room             chat.RoomID
	token            string
	conn             *Conn
	service          services.IChatService
	presence         presenceSet
	limiter          *rate.Limiter
	maxContentLength int
	metrics          *observability.Metrics
	log              *slog.Logger

	state      State
	user       chat.User
	registered bool
}

type sessionOptions struct {
	maxContentLength  int
	rateLimitBurst    int
	rateLimitInterval time.Duration
}

func newSession(
	scope chat.Scope,
	room chat.RoomID,
	token string,
	conn *Conn,
	service services.IChatService,
	presence presenceSet,
	opts sessionOptions,
	metrics *observability.Metrics,
	log *slog.Logger,
) *Session {
	logger := conn.log.With("scope", scope)
	if scope == chat.ScopeRoom {
		logger = logger.With("room_id", room)
	}
	return &Session{
		scope:            scope,
		room:             room,
		token:            token,
		conn:             conn,
		service:          service,
		presence:         presence,
		limiter:          rate.NewLimiter(rate.Every(opts.rateLimitInterval), opts.rateLimitBurst),
		maxContentLength: opts.maxContentLength,
		metrics:          metrics,
		log:              logger,
		state:            Connecting,
	}
}

func (s *Session) State() State { return s.state }

func (s *Session) transition(next State) {
	s.log.Debug("Session state", "from", s.state, "to", next)
	s.state = next
}

// Serve runs the session until the client leaves, the connection is closed from
// the server side, or authentication/authorization fails. Teardown runs on every exit path.
func (s *Session) Serve(ctx context.Context) {
	var cause error
	defer func() {
		if r := recover(); r != nil {
			cause = fmt.Errorf("session panic: %v", r)
			s.log.Error("Session panicked", "panic", r)
		}
		s.teardown(ctx, cause)
	}()

	s.transition(Authenticating)
	user, err := s.service.Authenticate(ctx, s.token)
	if err != nil {
		s.refuse("authentication", err)
		cause = err
		return
	}
	s.user = user
	s.conn.bindUser(user.ID)
	s.log = s.log.With("user_id", user.ID)

	if s.scope == chat.ScopeRoom {
		s.transition(Authorizing)
		if err := s.service.Authorize(ctx, user.ID, s.room); err != nil {
			s.refuse("authorization", err)
			cause = err
			return
		}
	}

	// Queued ahead of registration so no broadcast can overtake it
	if err := s.sendFrame(s.connectedFrame()); err != nil {
		cause = err
		return
	}
	if err := s.register(ctx); err != nil {
		cause = err
		return
	}

	s.transition(Active)
	s.log.Info("Session active")
	cause = s.receive(ctx)
}

func (s *Session) register(ctx context.Context) error {
	var err error
	switch s.scope {
	case chat.ScopeRoom:
		err = s.service.Join(ctx, s.room, s.conn)
	default:
		err = s.presence.Add(s.conn)
	}
	if err != nil {
		return err
	}
	s.registered = true
	s.metrics.ConnectionOpened(s.scope)
	return nil
}

// receive reads frames until the transport fails or the connection is closed.
// A client leaving is a normal end and yields nil.
func (s *Session) receive(ctx context.Context) error {
	s.conn.setupRead()
	for {
		raw, err := s.conn.read()
		if err != nil {
			if isExpectedCloseError(err) {
				s.log.Info("Client disconnected")
				return nil
			}
			if stderrors.Is(err, websocket.ErrReadLimit) {
				s.log.Warn("Frame exceeded the read limit")
				return fmt.Errorf("%w: frame too large", errors.ErrInvalidFrame)
			}
			s.log.Info("Connection lost", "error", err)
			return nil
		}
		s.handle(ctx, raw)
	}
}

func (s *Session) handle(ctx context.Context, raw []byte) {
	if !s.limiter.Allow() {
		s.reject("rate_limited", errors.ErrRateLimited)
		return
	}

	frame, err := chat.DecodeInbound(raw, s.scope, s.maxContentLength)
	if err != nil {
		s.reject("invalid_frame", err)
		return
	}

	switch f := frame.(type) {
	case chat.MessageFrame:
		message, err := s.service.SendMessage(ctx, chat.PostMessageCommand{
			Room:    s.room,
			Sender:  s.user,
			Content: f.Content,
			Type:    chat.MessageTypeText,
		})
		if err != nil {
			s.log.Warn("Message not sent", "error", err)
			s.reject("store_failed", err)
			return
		}
		s.log.Debug("Message sent", "message_id", message.ID)
	case chat.TypingFrame:
		err := s.service.SendTyping(ctx, chat.TypingCommand{
			Room:     f.RoomID,
			Sender:   s.user,
			IsTyping: f.IsTyping,
		})
		if err != nil {
			s.reject("typing_refused", err)
		}
	default:
		s.reject("invalid_frame", errors.ErrUnknownFrameType)
	}
}

// reject answers the offending connection only. The session stays active.
func (s *Session) reject(reason string, err error) {
	s.metrics.FrameRejected(reason)
	s.log.Debug("Frame rejected", "reason", reason, "error", err)
	message := errors.ClientMessage(err)
	if s.scope == chat.ScopeNotification && stderrors.Is(err, errors.ErrInvalidFrame) {
		message = "Invalid notification format"
	}
	if err := s.sendFrame(chat.NewErrorFrame(message)); err != nil {
		s.log.Debug("Unable to send error frame", "error", err)
	}
}

func (s *Session) refuse(reason string, err error) {
	s.metrics.SessionRefused(reason)
	s.log.Info("Session refused", "reason", reason, "error", err)
}

func (s *Session) sendFrame(frame any) error {
	payload, err := chat.Encode(frame)
	if err != nil {
		return err
	}
	return s.conn.Send(payload)
}

func (s *Session) connectedFrame() chat.ConnectedFrame {
	if s.scope == chat.ScopeRoom {
		return chat.NewRoomConnected(s.room, s.user.ID)
	}
	return chat.NewNotificationConnected(s.user.ID)
}

func (s *Session) teardown(ctx context.Context, cause error) {
	s.transition(Closing)
	if s.registered {
		switch s.scope {
		case chat.ScopeRoom:
			s.service.Leave(ctx, s.room, s.conn)
		default:
			s.presence.Remove(s.conn)
		}
		s.metrics.ConnectionClosed(s.scope)
	}

	code := errors.CloseCode(cause)
	reason := ""
	if code == websocket.ClosePolicyViolation {
		reason = closeReason(cause)
	}
	_ = s.conn.Close(code, reason)
	s.conn.wait()
	s.transition(Closed)
	s.log.Info("Session closed", "code", code)
}

func closeReason(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrNotRoomMember):
		return "Not a member of this room"
	case stderrors.Is(err, errors.ErrCollaboratorTimeout):
		return "Request timed out"
	default:
		return "Authentication failed"
	}
}
