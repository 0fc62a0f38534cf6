package chat

import (
	"chat-relay/errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeInbound_RoomScope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    InboundFrame
		wantErr error
	}{
		{"message frame", `{"type":"message","content":"hi"}`, MessageFrame{Content: "hi"}, nil},
		{"missing type defaults to message", `{"content":"hi"}`, MessageFrame{Content: "hi"}, nil},
		{"not json", `not json`, nil, errors.ErrInvalidFrame},
		{"missing content", `{"type":"message"}`, nil, errors.ErrInvalidFrame},
		{"empty content", `{"type":"message","content":""}`, nil, errors.ErrInvalidFrame},
		{"content of wrong type", `{"type":"message","content":42}`, nil, errors.ErrInvalidFrame},
		{"typing is not accepted on a room", `{"type":"typing","room_id":7,"is_typing":true}`, nil, errors.ErrUnknownFrameType},
		{"content too long", `{"content":"` + strings.Repeat("a", 11) + `"}`, nil, errors.ErrInvalidFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			frame, err := DecodeInbound([]byte(tt.raw), ScopeRoom, 10)
			if tt.wantErr != nil {
				req.ErrorIs(err, tt.wantErr)
				req.Nil(frame)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, frame)
		})
	}
}

func TestDecodeInbound_NotificationScope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    InboundFrame
		wantErr error
	}{
		{"typing frame", `{"type":"typing","room_id":7,"is_typing":true}`, TypingFrame{RoomID: 7, IsTyping: true}, nil},
		{"is_typing defaults to false", `{"type":"typing","room_id":7}`, TypingFrame{RoomID: 7}, nil},
		{"missing room", `{"type":"typing","is_typing":true}`, nil, errors.ErrInvalidFrame},
		{"zero room", `{"type":"typing","room_id":0}`, nil, errors.ErrInvalidFrame},
		{"missing type", `{"room_id":7}`, nil, errors.ErrUnknownFrameType},
		{"message is not accepted on notifications", `{"type":"message","content":"hi"}`, nil, errors.ErrUnknownFrameType},
		{"broken json", `{"type":`, nil, errors.ErrInvalidFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			frame, err := DecodeInbound([]byte(tt.raw), ScopeNotification, 0)
			if tt.wantErr != nil {
				req.ErrorIs(err, tt.wantErr)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, frame)
		})
	}
}

func TestEncode_MessageEvent(t *testing.T) {
	req := require.New(t)
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	raw, err := Encode(NewMessageEvent(Message{
		ID:             12,
		RoomID:         7,
		SenderID:       5,
		SenderUsername: "john_doe",
		Content:        "hi",
		Type:           MessageTypeText,
		CreatedAt:      at,
	}))
	req.NoError(err)
	req.JSONEq(`{"type":"message","data":{"id":12,"room_id":7,"sender_id":5,
		"sender_username":"john_doe","content":"hi","timestamp":"2024-01-01T12:00:00Z",
		"is_edited":false,"message_type":"text"}}`, string(raw))
}

func TestEncode_ConnectedFrames(t *testing.T) {
	req := require.New(t)

	raw, err := Encode(NewRoomConnected(7, 5))
	req.NoError(err)
	req.JSONEq(`{"type":"connected","room_id":7,"user_id":5}`, string(raw))

	raw, err = Encode(NewNotificationConnected(5))
	req.NoError(err)
	req.JSONEq(`{"type":"connected","user_id":5}`, string(raw))
}

func TestEncode_TypingEvent(t *testing.T) {
	req := require.New(t)
	raw, err := Encode(NewTypingEvent(TypingCommand{
		Room:     7,
		Sender:   User{ID: 5, Username: "john_doe"},
		IsTyping: true,
	}))
	req.NoError(err)
	req.JSONEq(`{"type":"typing","room_id":7,"user_id":5,"username":"john_doe","is_typing":true}`, string(raw))
}

func TestParseRoomID(t *testing.T) {
	req := require.New(t)
	id, ok := ParseRoomID("7")
	req.True(ok)
	req.Equal(RoomID(7), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, ok = ParseRoomID(bad)
		req.False(ok, bad)
	}
}
