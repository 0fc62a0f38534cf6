package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/gorilla/websocket"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// Terminal for a connection, closed with a policy violation.
	ErrInvalidCredentials = fmt.Errorf("invalid or expired credentials")
	ErrNotRoomMember      = fmt.Errorf("user is not a member of this room")

	// Recoverable, reported to the offending connection only.
	ErrInvalidFrame     = fmt.Errorf("invalid message format")
	ErrUnknownFrameType = fmt.Errorf("unknown frame type")
	ErrRateLimited      = fmt.Errorf("rate limit exceeded")

	ErrCollaboratorTimeout = fmt.Errorf("collaborator call timed out")
	ErrMessageNotStored    = fmt.Errorf("message could not be stored")
	ErrUserNotFound        = fmt.Errorf("user not found")
	ErrUserAlreadyExists   = fmt.Errorf("user already exists")
	ErrTokenGeneration     = fmt.Errorf("token generation failed")

	ErrAlreadyRegistered = fmt.Errorf("connection already registered")
	ErrConnectionClosed  = fmt.Errorf("connection closed")
	ErrSendBufferFull    = fmt.Errorf("connection send buffer full")
	ErrBusUnavailable    = fmt.Errorf("fan-out bus unavailable")
	ErrEmptyWords        = fmt.Errorf("no words have been found")
)

// CloseCode maps a session termination cause to the websocket close code sent to the peer.
func CloseCode(err error) int {
	switch {
	case err == nil:
		return websocket.CloseNormalClosure
	case stderrors.Is(err, ErrInvalidCredentials),
		stderrors.Is(err, ErrNotRoomMember),
		stderrors.Is(err, ErrCollaboratorTimeout):
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

// ClientMessage maps an error to the text of an outbound error frame.
// Frame-level errors get a stable text; anything else is reported as-is.
func ClientMessage(err error) string {
	switch {
	case stderrors.Is(err, ErrInvalidFrame):
		return "Invalid message format"
	case stderrors.Is(err, ErrUnknownFrameType):
		return "Unknown message type"
	case stderrors.Is(err, ErrRateLimited):
		return "Rate limit exceeded"
	case stderrors.Is(err, ErrNotRoomMember):
		return "Not a member of this room"
	case stderrors.Is(err, ErrCollaboratorTimeout):
		return "Request timed out"
	case stderrors.Is(err, ErrMessageNotStored):
		return "Message could not be stored"
	default:
		return err.Error()
	}
}
