package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParticipant(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		role        Role
		wantErr     error
		wantRole    Role
	}{
		{name: "valid", displayName: "Alice", role: RoleTeacher, wantRole: RoleTeacher},
		{name: "empty role defaults to guest", displayName: "Bob", role: "", wantRole: RoleGuest},
		{name: "empty name", displayName: "", role: RoleStudent, wantErr: ErrDisplayNameEmpty},
		{name: "name too long", displayName: strings.Repeat("x", MaxDisplayNameLen+1), role: RoleStudent, wantErr: ErrDisplayNameTooLong},
		{name: "name at limit", displayName: strings.Repeat("x", MaxDisplayNameLen), role: RoleStudent, wantRole: RoleStudent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewParticipant("user-1", tt.displayName, tt.role)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, UserID("user-1"), p.UserID)
			assert.Equal(t, tt.wantRole, p.Role)
			assert.False(t, p.IsHost)
		})
	}
}

func TestSetDisplayName(t *testing.T) {
	p, err := NewParticipant("user-1", "Alice", RoleStudent)
	require.NoError(t, err)

	assert.ErrorIs(t, p.SetDisplayName(""), ErrDisplayNameEmpty)
	assert.ErrorIs(t, p.SetDisplayName(strings.Repeat("x", MaxDisplayNameLen+1)), ErrDisplayNameTooLong)
	assert.Equal(t, "Alice", p.DisplayName, "rejected names leave the old one in place")

	require.NoError(t, p.SetDisplayName("Alicia"))
	assert.Equal(t, "Alicia", p.DisplayName)
}

func TestControlCommandValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     ControlCommand
		wantErr bool
	}{
		{name: "mute with target", cmd: ControlCommand{Kind: ControlMute, Target: "peer-a", By: "user-h"}},
		{name: "mute without target", cmd: ControlCommand{Kind: ControlMute, By: "user-h"}, wantErr: true},
		{name: "remove with target", cmd: ControlCommand{Kind: ControlRemove, Target: "peer-a", By: "user-h"}},
		{name: "remove without target", cmd: ControlCommand{Kind: ControlRemove, By: "user-h"}, wantErr: true},
		{name: "end needs no target", cmd: ControlCommand{Kind: ControlEnd, By: "user-h"}},
		{name: "unknown kind", cmd: ControlCommand{Kind: "kick", Target: "peer-a"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRosterPeerSet(t *testing.T) {
	r := Roster{
		HostID: "user-a",
		Entries: []RosterEntry{
			{Peer: "peer-self", UserID: "user-self"},
			{Peer: "peer-a", UserID: "user-a"},
			{Peer: "peer-b", UserID: "user-b"},
		},
	}

	set := r.PeerSet("peer-self")
	assert.Len(t, set, 2)
	assert.NotContains(t, set, PeerID("peer-self"))
	assert.Equal(t, UserID("user-a"), set["peer-a"].UserID)

	entry, ok := r.Find("peer-b")
	require.True(t, ok)
	assert.Equal(t, UserID("user-b"), entry.UserID)

	_, ok = r.Find("peer-x")
	assert.False(t, ok)
}
