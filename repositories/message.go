//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain/chat"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	messageSequenceKey = "seq:message"
	sequenceBandwidth  = 100
)

type IMessageRepository interface {
	StoreMessage(ctx context.Context, message NewMessage) (chat.Message, error)
	GetMessages(ctx context.Context, room chat.RoomID, cursor *string) ([]chat.Message, *string, error)
}

type MessageRepository struct {
	db            *badger.DB
	seq           *badger.Sequence
	log           *slog.Logger
	limitMessages *int
}

// NewMessage is what a caller hands to the store. Id and timestamp are assigned on write.
type NewMessage struct {
	Room    chat.RoomID
	Sender  chat.UserID
	Content string
	Type    string
}

type diskMessage struct {
	ID       int64  `json:"id"`
	Room     int64  `json:"room_id"`
	Sender   int64  `json:"sender_id"`
	Content  string `json:"content"`
	Type     string `json:"message_type"`
	IsEdited bool   `json:"is_edited"`
	At       int64  `json:"at"`
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) (*MessageRepository, error) {
	seq, err := db.GetSequence([]byte(messageSequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("unable to open message sequence: %w", err)
	}
	return &MessageRepository{db: db, seq: seq, log: log, limitMessages: limitMessages}, nil
}

// StoreMessage persists a message in BadgerDB and returns it with its id and timestamp.
// The key is formatted as "msg:{room_id}:{timestamp_padded}:{id_padded}" so that a prefix
// scan returns a room's messages in chronological order, the id breaking ties
// between messages written in the same nanosecond.
func (m *MessageRepository) StoreMessage(ctx context.Context, message NewMessage) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	id, err := m.nextID()
	if err != nil {
		return chat.Message{}, err
	}
	if message.Type == "" {
		message.Type = chat.MessageTypeText
	}
	at := time.Now().UTC()
	dm := diskMessage{
		ID:      id,
		Room:    int64(message.Room),
		Sender:  int64(message.Sender),
		Content: message.Content,
		Type:    message.Type,
		At:      at.UnixNano(),
	}
	bytes, err := json.Marshal(dm)
	if err != nil {
		return chat.Message{}, err
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(dm), bytes)
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("unable to store message in room %d: %w", message.Room, err)
	}
	return toMessage(dm), nil
}

// GetMessages returns a page of a room's messages, newest first.
// The returned cursor is the key suffix of the last message read; passing it back
// resumes strictly after that message.
func (m *MessageRepository) GetMessages(ctx context.Context, room chat.RoomID, cursor *string) ([]chat.Message, *string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var byteMessages [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%d:", room)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Past the newest possible key of the room, then walk backwards
			seekKey = append(prefix, []byte("9999999999999999999:9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[prefixLen:]) == *cursor {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(byteMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			byteMessages = append(byteMessages, value)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]chat.Message, 0, len(byteMessages))
	for _, b := range byteMessages {
		var dm diskMessage
		if err = json.Unmarshal(b, &dm); err != nil {
			return nil, nil, err
		}
		messages = append(messages, toMessage(dm))
	}
	if len(messages) == 0 {
		return messages, nil, nil
	}
	return messages, &lastKey, nil
}

// Close releases the leased sequence range.
func (m *MessageRepository) Close() error {
	return m.seq.Release()
}

// nextID skips zero, which badger hands out first on a fresh sequence.
func (m *MessageRepository) nextID() (int64, error) {
	for {
		id, err := m.seq.Next()
		if err != nil {
			return 0, fmt.Errorf("unable to allocate message id: %w", err)
		}
		if id != 0 {
			return int64(id), nil
		}
	}
}

func messageKey(dm diskMessage) []byte {
	return []byte(fmt.Sprintf("msg:%d:%019d:%019d", dm.Room, dm.At, dm.ID))
}

func toMessage(dm diskMessage) chat.Message {
	return chat.Message{
		ID:        dm.ID,
		RoomID:    chat.RoomID(dm.Room),
		SenderID:  chat.UserID(dm.Sender),
		Content:   dm.Content,
		Type:      dm.Type,
		IsEdited:  dm.IsEdited,
		CreatedAt: time.Unix(0, dm.At).UTC(),
	}
}
