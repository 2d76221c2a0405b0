package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/rostergate/rostergate/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRecords struct {
	records []db.Participant
	err     error
}

func (m *mockRecords) BoundRecords(_ context.Context, teamID string, chatIdentity string) ([]db.Participant, error) {
	if m.err != nil {
		return nil, m.err
	}
	res := make([]db.Participant, 0)
	for _, p := range m.records {
		if p.TeamID == teamID && p.ChatIdentity == chatIdentity {
			res = append(res, p)
		}
	}
	return res, nil
}

func rec(role db.RoleTag, status db.ParticipantStatus) db.Participant {
	return db.Participant{ID: string(role) + string(status), TeamID: "T", ChatIdentity: "U", Role: role, Status: status}
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		name    string
		records []db.Participant
		class   ConversationClass
		want    Level
	}{
		{"no records", nil, General, Public},
		{"no records admin chat", nil, Administrative, Public},
		{"active player in general", []db.Participant{rec(db.RolePlayer, db.ParticipantActive)}, General, Player},
		{"approved player in direct", []db.Participant{rec(db.RolePlayer, db.ParticipantApproved)}, Direct, Player},
		{"player in admin chat", []db.Participant{rec(db.RolePlayer, db.ParticipantActive)}, Administrative, Public},
		{"pending player", []db.Participant{rec(db.RolePlayer, db.ParticipantPending)}, General, Public},
		{"rejected player", []db.Participant{rec(db.RolePlayer, db.ParticipantRejected)}, General, Public},
		{"member in admin chat", []db.Participant{rec(db.RoleMember, db.ParticipantActive)}, Administrative, Leadership},
		{"admin in admin chat", []db.Participant{rec(db.RoleAdmin, db.ParticipantApproved)}, Administrative, Admin},
		{"member in general", []db.Participant{rec(db.RoleMember, db.ParticipantActive)}, General, Public},
		{"admin in general", []db.Participant{rec(db.RoleAdmin, db.ParticipantActive)}, General, Public},
		{"rejected admin", []db.Participant{rec(db.RoleAdmin, db.ParticipantRejected)}, Administrative, Public},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LevelFor(tc.records, tc.class))
		})
	}
}

func TestLevelFor_DualRoleDependsOnContext(t *testing.T) {
	both := []db.Participant{
		rec(db.RolePlayer, db.ParticipantActive),
		rec(db.RoleMember, db.ParticipantActive),
	}

	assert.Equal(t, Player, LevelFor(both, General))
	assert.Equal(t, Leadership, LevelFor(both, Administrative))
}

func TestAllows_IsMonotonic(t *testing.T) {
	levels := []Level{Public, Player, Leadership, Admin, System}
	for _, required := range levels {
		for i, resolved := range levels {
			if !Allows(resolved, required) {
				continue
			}
			for _, higher := range levels[i:] {
				assert.True(t, Allows(higher, required), "%s allowed %s but %s did not", resolved, required, higher)
			}
		}
	}

	assert.False(t, Allows(Leadership, Admin))
	assert.True(t, Allows(Admin, Leadership))
}

func TestResolveLevel(t *testing.T) {
	records := &mockRecords{records: []db.Participant{rec(db.RoleAdmin, db.ParticipantActive)}}
	resolver := NewResolver(records, WithSystemIdentities("system:sweeper"))
	ctx := context.Background()

	level, err := resolver.ResolveLevel(ctx, "U", "T", Administrative)
	require.NoError(t, err)
	assert.Equal(t, Admin, level)

	level, err = resolver.ResolveLevel(ctx, "U", "OTHER", Administrative)
	require.NoError(t, err)
	assert.Equal(t, Public, level)

	level, err = resolver.ResolveLevel(ctx, "system:sweeper", "T", General)
	require.NoError(t, err)
	assert.Equal(t, System, level)

	level, err = resolver.ResolveLevel(ctx, "", "T", General)
	require.NoError(t, err)
	assert.Equal(t, Public, level)
}

func TestResolveLevel_Error(t *testing.T) {
	resolver := NewResolver(&mockRecords{err: errors.New("boom")})
	level, err := resolver.ResolveLevel(context.Background(), "U", "T", General)
	assert.Error(t, err)
	assert.Equal(t, Public, level)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("leadership")
	require.NoError(t, err)
	assert.Equal(t, Leadership, l)

	_, err = ParseLevel("owner")
	assert.Error(t, err)
	assert.Equal(t, "ADMIN", Admin.String())
}

func TestRequire(t *testing.T) {
	assert.NoError(t, Require(Admin, Leadership))
	assert.NoError(t, Require(Player, Player))

	err := Require(Player, Leadership)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Contains(t, err.Error(), "LEADERSHIP required")
}
