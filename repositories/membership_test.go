package repositories

import (
	"chat-relay/domain/chat"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Membership_Lifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMembershipRepository(openTestDB(t))

	isMember, err := repository.IsMember(ctx, 5, 7)
	req.NoError(err)
	req.False(isMember)

	req.NoError(repository.AddMember(ctx, 7, 5, chat.RoleMember))
	isMember, err = repository.IsMember(ctx, 5, 7)
	req.NoError(err)
	req.True(isMember)

	// Membership is per room
	isMember, err = repository.IsMember(ctx, 5, 8)
	req.NoError(err)
	req.False(isMember)

	req.NoError(repository.RemoveMember(ctx, 7, 5))
	isMember, err = repository.IsMember(ctx, 5, 7)
	req.NoError(err)
	req.False(isMember)
}

func Test_List_Members(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := NewMembershipRepository(openTestDB(t))

	req.NoError(repository.AddMember(ctx, 7, 12, chat.RoleMember))
	req.NoError(repository.AddMember(ctx, 7, 5, ""))
	req.NoError(repository.AddMember(ctx, 70, 6, chat.RoleMember))
	// Upsert keeps one entry and updates the role
	req.NoError(repository.AddMember(ctx, 7, 12, chat.RoleAdmin))

	members, err := repository.ListMembers(ctx, 7)
	req.NoError(err)
	req.Len(members, 2)
	req.Equal(chat.UserID(5), members[0].User)
	req.Equal(chat.RoleMember, members[0].Role)
	req.Equal(chat.UserID(12), members[1].User)
	req.Equal(chat.RoleAdmin, members[1].Role)
	req.Equal(chat.RoomID(7), members[1].Room)
}
