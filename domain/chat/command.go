package chat

// PostMessageCommand asks for a message to be persisted and fanned out to the room.
type PostMessageCommand struct {
	Room    RoomID
	Sender  User
	Content string
	Type    string
}

// TypingCommand relays an ephemeral typing indicator. It is never persisted.
type TypingCommand struct {
	Room     RoomID
	Sender   User
	IsTyping bool
}
