package main

import (
	"bytes"
	"chat-relay/auth"
	"chat-relay/domain/chat"
	"chat-relay/repositories"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func chatctl(t *testing.T, config Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), config, args, &out)
	return out.String(), err
}

func TestChatctl_SeedAndListMembers(t *testing.T) {
	req := require.New(t)
	config := Config{BadgerFilepath: t.TempDir()}

	out, err := chatctl(t, config, "user", "add", "alice")
	req.NoError(err)
	req.Contains(out, `created user "alice" with id 1`)

	_, err = chatctl(t, config, "user", "add", "alice")
	req.Error(err)

	out, err = chatctl(t, config, "member", "add", "7", "1", "admin")
	req.NoError(err)
	req.Contains(out, "user 1 is now admin of room 7")

	out, err = chatctl(t, config, "members", "7")
	req.NoError(err)
	req.Contains(out, "alice")
	req.Contains(out, "admin")
	req.Contains(out, "1 member(s) in room 7")

	_, err = chatctl(t, config, "member", "remove", "7", "1")
	req.NoError(err)
	out, err = chatctl(t, config, "members", "7")
	req.NoError(err)
	req.Contains(out, "0 member(s) in room 7")
}

func TestChatctl_MemberAddRejectsUnknownUser(t *testing.T) {
	_, err := chatctl(t, Config{BadgerFilepath: t.TempDir()}, "member", "add", "7", "42")
	require.Error(t, err)
}

func TestChatctl_Token(t *testing.T) {
	req := require.New(t)
	config := Config{
		BadgerFilepath:    t.TempDir(),
		JWTSecret:         "a_test_secret_that_is_long_enough",
		JWTIssuer:         "chat-relay",
		AuthTokenDuration: time.Hour,
	}

	out, err := chatctl(t, config, "token", "12")
	req.NoError(err)

	userID, err := auth.NewTokenVerifier(config.JWTSecret, config.JWTIssuer).Verify(strings.TrimSpace(out))
	req.NoError(err)
	req.Equal(chat.UserID(12), userID)

	_, err = chatctl(t, Config{BadgerFilepath: t.TempDir()}, "token", "12")
	req.Error(err)
}

func TestChatctl_History(t *testing.T) {
	req := require.New(t)
	config := Config{BadgerFilepath: t.TempDir()}

	out, err := chatctl(t, config, "history", "3")
	req.NoError(err)
	req.NotContains(out, "next cursor")

	_, err = chatctl(t, config, "user", "add", "bob")
	req.NoError(err)
	seedMessages(t, config.BadgerFilepath, 3, 1, "first", "second")

	out, err = chatctl(t, config, "history", "3")
	req.NoError(err)
	req.Contains(out, "first")
	req.Contains(out, "second")
	req.Contains(out, "bob")
	req.Contains(out, "next cursor")
}

func seedMessages(t *testing.T, path string, room chat.RoomID, sender chat.UserID, contents ...string) {
	t.Helper()
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	req.NoError(err)
	defer db.Close()
	messages, err := repositories.NewMessageRepository(db, slog.Default(), nil)
	req.NoError(err)
	defer messages.Close()
	for _, content := range contents {
		_, err := messages.StoreMessage(context.Background(), repositories.NewMessage{
			Room: room, Sender: sender, Content: content, Type: chat.MessageTypeText,
		})
		req.NoError(err)
	}
}

func TestChatctl_Usage(t *testing.T) {
	tests := [][]string{
		{},
		{"unknown"},
		{"members", "not-a-room"},
		{"member", "add", "x", "1"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := chatctl(t, Config{BadgerFilepath: t.TempDir()}, args...)
			require.Error(t, err)
		})
	}
}
