package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleModerator), "expected admin to outrank moderator")
	assert.True(t, RoleModerator.AtLeast(RoleUser), "expected moderator to outrank user")
	assert.True(t, RoleUser.AtLeast(RoleGuest), "expected user to outrank guest")
	assert.True(t, RoleUser.AtLeast(RoleUser), "expected role to satisfy itself")
	assert.False(t, RoleGuest.AtLeast(RoleUser), "expected guest not to outrank user")
}

func TestDefaultPermissions(t *testing.T) {
	for _, role := range []Role{RoleGuest, RoleUser, RoleModerator, RoleAdmin} {
		perms := DefaultPermissions(role)
		assert.Truef(t, perms.Has(CapNotificationsRecv), "expected %s to receive notifications", role)
	}

	assert.True(t, DefaultPermissions(RoleAdmin).IsAll(), "expected admin to have all permissions")
	assert.False(t, DefaultPermissions(RoleGuest).Has(CapChatSend), "expected guest not to send chat messages")
	assert.True(t, DefaultPermissions(RoleUser).Has(CapChatSend), "expected user to send chat messages")
}

func TestRoomParticipants(t *testing.T) {
	room := Room{Id: "r1", ParticipantA: "u1", ParticipantB: "u2"}

	assert.Equal(t, "u2", room.OtherParticipant("u1"), "expected counterpart of u1 to be u2")
	assert.Equal(t, "u1", room.OtherParticipant("u2"), "expected counterpart of u2 to be u1")
	assert.Equal(t, "", room.OtherParticipant("u3"), "expected empty counterpart for non-participant")
	assert.True(t, room.HasParticipant("u1"))
	assert.False(t, room.HasParticipant("u3"))
}
