package repositories

import (
	"chat-relay/domain/chat"
	"context"
	"log/slog"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func Test_Store_Message_Assigns_Id_And_Timestamp(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository, err := NewMessageRepository(openTestDB(t), slog.Default(), nil)
	req.NoError(err)
	defer repository.Close()

	first, err := repository.StoreMessage(ctx, NewMessage{Room: 7, Sender: 5, Content: "hi"})
	req.NoError(err)
	second, err := repository.StoreMessage(ctx, NewMessage{Room: 7, Sender: 6, Content: "hello", Type: "system"})
	req.NoError(err)

	req.NotZero(first.ID)
	req.NotEqual(first.ID, second.ID)
	req.Equal(chat.RoomID(7), first.RoomID)
	req.Equal(chat.UserID(5), first.SenderID)
	req.Equal(chat.MessageTypeText, first.Type)
	req.Equal("system", second.Type)
	req.False(first.IsEdited)
	req.False(first.CreatedAt.IsZero())
}

func Test_Record_Multiple_Message(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository, err := NewMessageRepository(openTestDB(t), slog.Default(), nil)
	req.NoError(err)
	defer repository.Close()

	var stored []chat.Message
	for _, content := range []string{"Alice", "Bob", "Clara"} {
		m, err := repository.StoreMessage(ctx, NewMessage{Room: 1, Sender: 1, Content: content})
		req.NoError(err)
		stored = append(stored, m)
	}
	_, err = repository.StoreMessage(ctx, NewMessage{Room: 2, Sender: 1, Content: "elsewhere"})
	req.NoError(err)

	fetched, cursor, err := repository.GetMessages(ctx, 1, nil)
	req.NoError(err)
	req.NotNil(cursor)
	req.Len(fetched, 3)
	// Newest first
	req.Equal(stored[2], fetched[0])
	req.Equal(stored[1], fetched[1])
	req.Equal(stored[0], fetched[2])
}

func Test_Record_Multiple_Message_And_Paginate(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	limit := 2
	repository, err := NewMessageRepository(openTestDB(t), slog.Default(), &limit)
	req.NoError(err)
	defer repository.Close()

	for _, content := range []string{"one", "two", "three"} {
		_, err := repository.StoreMessage(ctx, NewMessage{Room: 1, Sender: 1, Content: content})
		req.NoError(err)
	}

	page, cursor, err := repository.GetMessages(ctx, 1, nil)
	req.NoError(err)
	req.Len(page, limit)
	req.Equal("three", page[0].Content)
	req.Equal("two", page[1].Content)

	page, cursor, err = repository.GetMessages(ctx, 1, cursor)
	req.NoError(err)
	req.Len(page, 1)
	req.Equal("one", page[0].Content)

	page, cursor, err = repository.GetMessages(ctx, 1, cursor)
	req.NoError(err)
	req.Empty(page)
	req.Nil(cursor)
}

func Test_Get_Messages_Of_Empty_Room(t *testing.T) {
	req := require.New(t)
	repository, err := NewMessageRepository(openTestDB(t), slog.Default(), nil)
	req.NoError(err)
	defer repository.Close()

	page, cursor, err := repository.GetMessages(context.Background(), 42, nil)
	req.NoError(err)
	req.Empty(page)
	req.Nil(cursor)
}

func Test_Store_Message_Honours_Cancelled_Context(t *testing.T) {
	req := require.New(t)
	repository, err := NewMessageRepository(openTestDB(t), slog.Default(), nil)
	req.NoError(err)
	defer repository.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = repository.StoreMessage(ctx, NewMessage{Room: 1, Sender: 1, Content: "late"})
	req.ErrorIs(err, context.Canceled)
}
