//go:generate go run go.uber.org/mock/mockgen -source=membership.go -destination=../mocks/mock_membership_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain/chat"
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// IMembershipRepository is the membership oracle.
type IMembershipRepository interface {
	IsMember(ctx context.Context, user chat.UserID, room chat.RoomID) (bool, error)
	AddMember(ctx context.Context, room chat.RoomID, user chat.UserID, role chat.Role) error
	RemoveMember(ctx context.Context, room chat.RoomID, user chat.UserID) error
	ListMembers(ctx context.Context, room chat.RoomID) ([]chat.Membership, error)
}

type MembershipRepository struct {
	db *badger.DB
}

func NewMembershipRepository(db *badger.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

type diskMembership struct {
	Role     string `json:"role"`
	JoinedAt int64  `json:"joined_at"`
}

func (r *MembershipRepository) IsMember(ctx context.Context, user chat.UserID, room chat.RoomID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(membershipKey(room, user))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case stderrors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("unable to check membership of user %d in room %d: %w", user, room, err)
	}
}

// AddMember is an upsert: adding an existing member only updates its role.
func (r *MembershipRepository) AddMember(ctx context.Context, room chat.RoomID, user chat.UserID, role chat.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if role == "" {
		role = chat.RoleMember
	}
	return r.db.Update(func(txn *badger.Txn) error {
		key := membershipKey(room, user)
		dm := diskMembership{Role: string(role), JoinedAt: time.Now().Unix()}
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing diskMembership
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) }); err != nil {
				return err
			}
			dm.JoinedAt = existing.JoinedAt
		case !stderrors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		data, err := json.Marshal(dm)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func (r *MembershipRepository) RemoveMember(ctx context.Context, room chat.RoomID, user chat.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(membershipKey(room, user))
	})
}

// ListMembers scans the room prefix, users ordered by id.
func (r *MembershipRepository) ListMembers(ctx context.Context, room chat.RoomID) ([]chat.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var memberships []chat.Membership
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("member:%d:", room))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			user, ok := chat.ParseUserID(string(item.Key()[len(prefix):]))
			if !ok {
				continue
			}
			var dm diskMembership
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &dm) }); err != nil {
				return err
			}
			memberships = append(memberships, chat.Membership{
				Room:     room,
				User:     user,
				Role:     chat.Role(dm.Role),
				JoinedAt: time.Unix(dm.JoinedAt, 0).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// The user id is zero padded so that a prefix scan yields members in id order.
func membershipKey(room chat.RoomID, user chat.UserID) []byte {
	return []byte(fmt.Sprintf("member:%d:%019d", room, user))
}
