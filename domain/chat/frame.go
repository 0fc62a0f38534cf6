package chat

import (
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
)

var (
	json     = jsoniter.ConfigCompatibleWithStandardLibrary
	validate = validator.New()
)

// Scope is the kind of endpoint a connection was opened on.
type Scope string

const (
	ScopeRoom         Scope = "room"
	ScopeNotification Scope = "notification"
)

type FrameType string

const (
	FrameConnected FrameType = "connected"
	FrameMessage   FrameType = "message"
	FrameTyping    FrameType = "typing"
	FrameError     FrameType = "error"
)

// InboundFrame is the closed set of frames a client may send.
// Only MessageFrame and TypingFrame implement it.
type InboundFrame interface {
	inbound()
}

type MessageFrame struct {
	Content string `validate:"required"`
}

type TypingFrame struct {
	RoomID   RoomID `validate:"gt=0"`
	IsTyping bool
}

func (MessageFrame) inbound() {}
func (TypingFrame) inbound()  {}

type rawFrame struct {
	Type     *string `json:"type"`
	Content  *string `json:"content"`
	RoomID   *int64  `json:"room_id"`
	IsTyping *bool   `json:"is_typing"`
}

// DecodeInbound parses a client frame for the given scope.
// Unparseable or incomplete frames yield ErrInvalidFrame; a well-formed frame whose
// type the scope does not accept yields ErrUnknownFrameType.
// In the room scope a missing type means "message".
func DecodeInbound(raw []byte, scope Scope, maxContentLength int) (InboundFrame, error) {
	var f rawFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
	}

	frameType := ""
	if f.Type != nil {
		frameType = *f.Type
	}

	switch scope {
	case ScopeRoom:
		if frameType == "" {
			frameType = string(FrameMessage)
		}
		if FrameType(frameType) != FrameMessage {
			return nil, fmt.Errorf("%w: %q", errors.ErrUnknownFrameType, frameType)
		}
		frame := MessageFrame{}
		if f.Content != nil {
			frame.Content = *f.Content
		}
		if err := validate.Struct(frame); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
		}
		if maxContentLength > 0 {
			if err := validate.Var(frame.Content, fmt.Sprintf("max=%d", maxContentLength)); err != nil {
				return nil, fmt.Errorf("%w: content longer than %d characters", errors.ErrInvalidFrame, maxContentLength)
			}
		}
		return frame, nil

	case ScopeNotification:
		if FrameType(frameType) != FrameTyping {
			return nil, fmt.Errorf("%w: %q", errors.ErrUnknownFrameType, frameType)
		}
		if f.RoomID == nil {
			return nil, fmt.Errorf("%w: missing room_id", errors.ErrInvalidFrame)
		}
		frame := TypingFrame{RoomID: RoomID(*f.RoomID)}
		if f.IsTyping != nil {
			frame.IsTyping = *f.IsTyping
		}
		if err := validate.Struct(frame); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
		}
		return frame, nil

	default:
		return nil, fmt.Errorf("%w: scope %q", errors.ErrUnknownFrameType, scope)
	}
}

type ConnectedFrame struct {
	Type   FrameType `json:"type"`
	RoomID *RoomID   `json:"room_id,omitempty"`
	UserID UserID    `json:"user_id"`
}

type MessagePayload struct {
	ID             int64  `json:"id"`
	RoomID         RoomID `json:"room_id"`
	SenderID       UserID `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	IsEdited       bool   `json:"is_edited"`
	MessageType    string `json:"message_type"`
}

type MessageEvent struct {
	Type FrameType      `json:"type"`
	Data MessagePayload `json:"data"`
}

type TypingEvent struct {
	Type     FrameType `json:"type"`
	RoomID   RoomID    `json:"room_id"`
	UserID   UserID    `json:"user_id"`
	Username string    `json:"username"`
	IsTyping bool      `json:"is_typing"`
}

type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}

func NewRoomConnected(room RoomID, user UserID) ConnectedFrame {
	return ConnectedFrame{Type: FrameConnected, RoomID: &room, UserID: user}
}

func NewNotificationConnected(user UserID) ConnectedFrame {
	return ConnectedFrame{Type: FrameConnected, UserID: user}
}

func NewMessageEvent(m Message) MessageEvent {
	return MessageEvent{
		Type: FrameMessage,
		Data: MessagePayload{
			ID:             m.ID,
			RoomID:         m.RoomID,
			SenderID:       m.SenderID,
			SenderUsername: m.SenderUsername,
			Content:        m.Content,
			Timestamp:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
			IsEdited:       m.IsEdited,
			MessageType:    m.Type,
		},
	}
}

func NewTypingEvent(cmd TypingCommand) TypingEvent {
	return TypingEvent{
		Type:     FrameTyping,
		RoomID:   cmd.Room,
		UserID:   cmd.Sender.ID,
		Username: cmd.Sender.Username,
		IsTyping: cmd.IsTyping,
	}
}

func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Message: message}
}

// Encode returns the wire representation of an outbound frame.
func Encode(frame any) ([]byte, error) {
	return json.Marshal(frame)
}

// Decode is the inverse of Encode, used by clients and tests.
func Decode(raw []byte, frame any) error {
	return json.Unmarshal(raw, frame)
}
