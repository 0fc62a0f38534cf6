// Package chat contains the core concepts of the relay: rooms, users, messages
// and the frames exchanged with connected clients.
package chat

import (
	"strconv"
	"time"
)

type RoomID int64

type UserID int64

func (r RoomID) String() string { return strconv.FormatInt(int64(r), 10) }

func (u UserID) String() string { return strconv.FormatInt(int64(u), 10) }

// ParseRoomID parses a positive decimal room identifier.
func ParseRoomID(s string) (RoomID, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return RoomID(id), true
}

// ParseUserID parses a positive decimal user identifier.
func ParseUserID(s string) (UserID, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return UserID(id), true
}

type User struct {
	ID       UserID
	Username string
}

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Membership is one edge of the user/room many-to-many relation.
type Membership struct {
	Room     RoomID
	User     UserID
	Role     Role
	JoinedAt time.Time
}

const MessageTypeText = "text"

// Message is a persisted chat message. The id is assigned by the store and is
// globally unique; it is not guaranteed to grow monotonically within a room.
type Message struct {
	ID             int64
	RoomID         RoomID
	SenderID       UserID
	SenderUsername string
	Content        string
	Type           string
	IsEdited       bool
	CreatedAt      time.Time
}
