//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const userSequenceKey = "seq:user"

type IUserRepository interface {
	CreateUser(ctx context.Context, username string) (chat.User, error)
	GetUser(ctx context.Context, id chat.UserID) (chat.User, error)
}

type UserRepository struct {
	db  *badger.DB
	seq *badger.Sequence
}

func NewUserRepository(db *badger.DB) (*UserRepository, error) {
	seq, err := db.GetSequence([]byte(userSequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("unable to open user sequence: %w", err)
	}
	return &UserRepository{db: db, seq: seq}, nil
}

type diskUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"created_at"`
}

// CreateUser persists a new user and returns it with its generated id.
// Usernames are unique.
func (u *UserRepository) CreateUser(ctx context.Context, username string) (chat.User, error) {
	if err := ctx.Err(); err != nil {
		return chat.User{}, err
	}
	var id uint64
	for id == 0 {
		next, err := u.seq.Next()
		if err != nil {
			return chat.User{}, fmt.Errorf("unable to allocate user id: %w", err)
		}
		id = next
	}

	du := diskUser{ID: int64(id), Username: username, CreatedAt: time.Now().Unix()}
	data, err := json.Marshal(du)
	if err != nil {
		return chat.User{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		nameKey := []byte("username:" + username)
		if _, err := txn.Get(nameKey); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err := txn.Set(nameKey, []byte(strconv.FormatInt(du.ID, 10))); err != nil {
			return err
		}
		return txn.Set(userKey(chat.UserID(du.ID)), data)
	})
	if err != nil {
		return chat.User{}, err
	}
	return chat.User{ID: chat.UserID(du.ID), Username: du.Username}, nil
}

// GetUser returns ErrUserNotFound when no user carries this id.
func (u *UserRepository) GetUser(ctx context.Context, id chat.UserID) (chat.User, error) {
	if err := ctx.Err(); err != nil {
		return chat.User{}, err
	}
	var du diskUser
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &du)
		})
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return chat.User{}, fmt.Errorf("%w: %d", errors.ErrUserNotFound, id)
	}
	if err != nil {
		return chat.User{}, err
	}
	return chat.User{ID: chat.UserID(du.ID), Username: du.Username}, nil
}

func (u *UserRepository) Close() error {
	return u.seq.Release()
}

func userKey(id chat.UserID) []byte {
	return []byte(fmt.Sprintf("user:%d", id))
}
