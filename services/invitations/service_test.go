package invitations

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/db/memory"
	"github.com/rostergate/rostergate/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewService(memory.CreateStore(), WithClock(clock.Now)), clock
}

func createInvitation(t *testing.T, svc *Service, teamID string) db.Invitation {
	t.Helper()
	id, err := svc.Create(context.Background(), db.Invitation{
		TeamID:         teamID,
		TargetRecordID: "rec-1",
		Role:           db.RolePlayer,
		Signature:      "abcd",
	})
	require.NoError(t, err)
	inv, err := svc.Get(context.Background(), teamID, id)
	require.NoError(t, err)
	return inv
}

func TestCreate_Defaults(t *testing.T) {
	svc, clock := newTestService(t)
	inv := createInvitation(t, svc, "team-1")

	assert.Equal(t, db.InvitationActive, inv.Status)
	assert.Equal(t, clock.Now(), inv.Created)
	assert.Equal(t, clock.Now().Add(7*24*time.Hour), inv.ExpiresAt)
	assert.Equal(t, "abcd", inv.Signature)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]db.Invitation{
		"no team":      {TargetRecordID: "r", Role: db.RolePlayer, Signature: "s"},
		"no target":    {TeamID: "t", Role: db.RolePlayer, Signature: "s"},
		"bad role":     {TeamID: "t", TargetRecordID: "r", Role: "captain", Signature: "s"},
		"no signature": {TeamID: "t", TargetRecordID: "r", Role: db.RolePlayer},
	}

	for name, inv := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, inv)
			var validationErr *db.ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestGet_Missing(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "team-1", "nope")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestMarkUsed_SecondAttemptFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	inv := createInvitation(t, svc, "team-1")

	outcome, err := svc.MarkUsed(ctx, "team-1", inv.ID, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUsed, outcome)

	outcome, err = svc.MarkUsed(ctx, "team-1", inv.ID, "tg:2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyUsed, outcome)
	assert.ErrorIs(t, outcome.Err(), ErrInvitationAlreadyUsed)

	stored, err := svc.Get(ctx, "team-1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, db.InvitationUsed, stored.Status)
	assert.Equal(t, "tg:1", stored.UsedBy)
	require.NotNil(t, stored.UsedAt)
}

func TestMarkUsed_ConcurrentAttemptsHaveOneWinner(t *testing.T) {
	svc, _ := newTestService(t)
	inv := createInvitation(t, svc, "team-1")

	const attempts = 32
	outcomes := make([]Outcome, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i], errs[i] = svc.MarkUsed(context.Background(), "team-1", inv.ID, "tg:racer")
		}(i)
	}
	close(start)
	wg.Wait()

	used := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		switch outcomes[i] {
		case OutcomeUsed:
			used++
		case OutcomeAlreadyUsed:
		default:
			t.Fatalf("unexpected outcome %q", outcomes[i])
		}
	}
	assert.Equal(t, 1, used)
}

func TestMarkUsed_ExpiryIsMonotonic(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	inv := createInvitation(t, svc, "team-1")

	clock.Advance(7 * 24 * time.Hour)

	outcome, err := svc.MarkUsed(ctx, "team-1", inv.ID, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, outcome)

	stored, err := svc.Get(ctx, "team-1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, db.InvitationExpired, stored.Status)

	// turning the clock back never revives it
	clock.Advance(-48 * time.Hour)
	outcome, err = svc.MarkUsed(ctx, "team-1", inv.ID, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, outcome)
}

func TestMarkUsed_JustBeforeExpiry(t *testing.T) {
	svc, clock := newTestService(t)
	inv := createInvitation(t, svc, "team-1")

	clock.Advance(7*24*time.Hour - time.Second)

	outcome, err := svc.MarkUsed(context.Background(), "team-1", inv.ID, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUsed, outcome)
}

func TestMarkUsed_WrongTeamIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	inv := createInvitation(t, svc, "team-1")

	_, err := svc.MarkUsed(context.Background(), "team-2", inv.ID, "tg:1")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRevoke(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	inv := createInvitation(t, svc, "team-1")

	require.NoError(t, svc.Revoke(ctx, "team-1", inv.ID))
	require.NoError(t, svc.Revoke(ctx, "team-1", inv.ID))

	outcome, err := svc.MarkUsed(ctx, "team-1", inv.ID, "tg:1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRevoked, outcome)

	used := createInvitation(t, svc, "team-1")
	_, err = svc.MarkUsed(ctx, "team-1", used.ID, "tg:1")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Revoke(ctx, "team-1", used.ID), db.ErrInvalidOperation)
}

func TestListAndExpireStale(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	first := createInvitation(t, svc, "team-1")
	clock.Advance(time.Hour)
	second := createInvitation(t, svc, "team-1")
	other := createInvitation(t, svc, "team-2")

	list, err := svc.List(ctx, "team-1", ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	_, err = svc.MarkUsed(ctx, "team-1", second.ID, "tg:1")
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)
	n, err := svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	expired, err := svc.List(ctx, db.AnyTeam, ListFilter{Status: db.InvitationExpired})
	require.NoError(t, err)
	ids := []string{expired[0].ID, expired[1].ID}
	assert.ElementsMatch(t, []string{first.ID, other.ID}, ids)

	n, err = svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestIssue(t *testing.T) {
	svc, clock := newTestService(t)
	codec, err := token.NewCodec(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	issuer := NewIssuer(svc, codec, "@team_bot", 0)

	target := db.Participant{ID: "rec-9", TeamID: "team-1", Name: "Sam", Role: db.RolePlayer, Status: db.ParticipantPending}
	issued, err := issuer.Issue(context.Background(), target, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, "https://t.me/team_bot?start="+issued.Token, issued.Link)

	assert.LessOrEqual(t, len(issued.Token), 64)

	ref, err := codec.Parse(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.Invitation.ID, ref.InviteID)

	stored, err := svc.Get(context.Background(), "team-1", issued.Invitation.ID)
	require.NoError(t, err)
	assert.Equal(t, ref.Signature, stored.Signature)
	assert.Equal(t, "admin-1", stored.CreatedBy)
	assert.Equal(t, "rec-9", stored.TargetRecordID)
	assert.Equal(t, clock.Now().Add(db.DefaultInvitationTTL), stored.ExpiresAt)
	assert.NoError(t, codec.Verify(ref, TokenPayload(stored)))
}

func TestIssue_RejectsLinkedRecord(t *testing.T) {
	svc, _ := newTestService(t)
	codec, err := token.NewCodec(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	issuer := NewIssuer(svc, codec, "team_bot", time.Hour)

	target := db.Participant{ID: "rec-9", TeamID: "team-1", Role: db.RolePlayer, ChatIdentity: "tg:1"}
	_, err = issuer.Issue(context.Background(), target, "admin-1")
	assert.Error(t, err)
}
