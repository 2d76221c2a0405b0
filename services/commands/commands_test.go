package commands

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/db/memory"
	"github.com/rostergate/rostergate/pkg/phone"
	"github.com/rostergate/rostergate/pkg/retry"
	"github.com/rostergate/rostergate/pkg/token"
	"github.com/rostergate/rostergate/services/identity"
	"github.com/rostergate/rostergate/services/intent"
	"github.com/rostergate/rostergate/services/invitations"
	"github.com/rostergate/rostergate/services/permission"
	"github.com/rostergate/rostergate/services/roster"
	"github.com/rostergate/rostergate/services/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineCall struct {
	action string
	auth   router.AuthorizationContext
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []engineCall
}

func (e *fakeEngine) Execute(_ context.Context, action intent.CanonicalAction, _ identity.ResolvedIdentity, auth router.AuthorizationContext) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, engineCall{action: action.Name, auth: auth})
	return "engine says " + action.Name, nil
}

type env struct {
	router  *router.Router
	roster  *roster.Service
	invites *invitations.Service
	engine  *fakeEngine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvOn(t, memory.CreateStore())
}

func newEnvOn(t *testing.T, store db.Store) *env {
	t.Helper()
	normalizer := phone.NewNormalizer("GB")

	codec, err := token.NewCodec(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)

	rosterSvc := roster.NewService(store, normalizer)
	inviteSvc := invitations.NewService(store)
	engine := &fakeEngine{}

	reg, err := Build(Deps{
		Roster:      rosterSvc,
		Invitations: inviteSvc,
		Issuer:      invitations.NewIssuer(inviteSvc, codec, "team_bot", 0),
		Phone:       normalizer,
		Engine:      engine,
	})
	require.NoError(t, err)

	r, err := router.NewRouter(
		reg,
		intent.NewNormalizer(reg, nil, intent.DefaultLabelTable(0.7), "team_bot"),
		identity.NewResolver(rosterSvc, inviteSvc, codec),
		permission.NewResolver(rosterSvc),
		router.Config{DispatchTimeout: time.Second, Retry: retry.Policy{MaxTries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}},
	)
	require.NoError(t, err)

	return &env{router: r, roster: rosterSvc, invites: inviteSvc, engine: engine}
}

func (e *env) linked(t *testing.T, role db.RoleTag, chatIdentity string) db.Participant {
	t.Helper()
	ctx := context.Background()
	p, err := e.roster.Create(ctx, roster.NewParticipant{TeamID: "T", Name: "Pat", Role: role})
	require.NoError(t, err)
	p, err = e.roster.Bind(ctx, "T", p.ID, chatIdentity)
	require.NoError(t, err)
	return p
}

func (e *env) send(chatIdentity string, class permission.ConversationClass, text string) router.Response {
	return e.router.Handle(context.Background(), router.Message{
		ID:                "m",
		TeamID:            "T",
		ChatIdentity:      chatIdentity,
		ConversationClass: class,
		Text:              text,
		Structured:        intent.IsStructured(text),
	})
}

func tokenFromLink(t *testing.T, text string) string {
	t.Helper()
	i := strings.Index(text, "?start=")
	require.GreaterOrEqual(t, i, 0, "no link in %q", text)
	return strings.Fields(text[i+len("?start="):])[0]
}

func TestOnboardingFlow(t *testing.T) {
	e := newEnv(t)
	e.linked(t, db.RoleAdmin, "admin")

	res := e.send("admin", permission.Administrative, "/addplayer Sam Smith 07400123456")
	require.Equal(t, router.StateDispatched, res.State, res.Text)
	assert.Contains(t, res.Text, "Sam Smith")
	tok := tokenFromLink(t, res.Text)

	// before linking the newcomer only gets guidance
	res = e.send("sam", permission.General, "/roster")
	assert.Equal(t, router.StateGuidance, res.State)

	res = e.send("sam", permission.Direct, "/start "+tok)
	require.Equal(t, router.StateDispatched, res.State)
	assert.True(t, res.NewBinding)
	assert.Contains(t, res.Text, "Welcome")

	res = e.send("mallory", permission.Direct, "/start "+tok)
	assert.Equal(t, router.StateDispatched, res.State)
	assert.Contains(t, res.Text, "not valid")
	assert.False(t, res.NewBinding)

	res = e.send("sam", permission.General, "/roster")
	require.Equal(t, router.StateDispatched, res.State)
	assert.Equal(t, "engine says roster", res.Text)
	require.Len(t, e.engine.calls, 1)
	assert.Equal(t, permission.Player, e.engine.calls[0].auth.Level)

	records, err := e.roster.BoundRecords(context.Background(), "T", "sam")
	require.NoError(t, err)
	require.Len(t, records, 1)

	res = e.send("admin", permission.Administrative, "/approve "+records[0].ID)
	require.Equal(t, router.StateDispatched, res.State)
	assert.Contains(t, res.Text, "approved")

	res = e.send("sam", permission.General, "/approve "+records[0].ID)
	assert.Equal(t, router.StateDenied, res.State)
}

// flakyStore fails the next n participant writes with a transient error.
type flakyStore struct {
	db.Store

	mu       sync.Mutex
	failures int
}

func (s *flakyStore) failParticipantWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *flakyStore) CompareAndSwap(ctx context.Context, teamID string, key string, expected int64, doc db.Document) (bool, error) {
	s.mu.Lock()
	fail := s.failures > 0 && doc.Kind == db.KindParticipant
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		return false, db.Unavailable(errors.New("connection reset"))
	}
	return s.Store.CompareAndSwap(ctx, teamID, key, expected, doc)
}

func TestStartSurvivesTransientLinkFailure(t *testing.T) {
	store := &flakyStore{Store: memory.CreateStore()}
	e := newEnvOn(t, store)
	e.linked(t, db.RoleAdmin, "admin")

	res := e.send("admin", permission.Administrative, "/addplayer Sam Smith")
	require.Equal(t, router.StateDispatched, res.State, res.Text)
	tok := tokenFromLink(t, res.Text)

	store.failParticipantWrites(1)
	res = e.send("U1", permission.Direct, "/start "+tok)
	require.Equal(t, router.StateDispatched, res.State, res.Text)
	assert.True(t, res.NewBinding)
	assert.Contains(t, res.Text, "Welcome")

	records, err := e.roster.BoundRecords(context.Background(), "T", "U1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, db.ParticipantActive, records[0].Status)

	invites, err := e.invites.List(context.Background(), "T", invitations.ListFilter{RecordID: records[0].ID})
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, db.InvitationUsed, invites[0].Status)
	assert.Equal(t, "U1", invites[0].UsedBy)
}

func TestInviteFitsTelegramStartParameter(t *testing.T) {
	e := newEnv(t)
	e.linked(t, db.RoleAdmin, "admin")

	p, err := e.roster.Create(context.Background(), roster.NewParticipant{TeamID: "T", Name: "Sam", Role: db.RolePlayer})
	require.NoError(t, err)

	res := e.send("admin", permission.Administrative, "/invite "+p.ID)
	require.Equal(t, router.StateDispatched, res.State, res.Text)

	tok := tokenFromLink(t, res.Text)
	assert.LessOrEqual(t, len(tok), 64)
	assert.Regexp(t, `^[A-Za-z0-9_-]+$`, tok)
	assert.Contains(t, res.Text, "/start "+tok)

	res = e.send("sam", permission.Direct, "/start "+tok)
	require.Equal(t, router.StateDispatched, res.State)
	assert.True(t, res.NewBinding)
}

func TestUnresolvedGeneralMessageGetsGuidance(t *testing.T) {
	e := newEnv(t)

	res := e.send("stranger", permission.General, "/matches")
	assert.Equal(t, router.StateGuidance, res.State)
	assert.Contains(t, res.Text, "invitation link")
	assert.Empty(t, e.engine.calls)
}

func TestMemberCannotRunAdminAction(t *testing.T) {
	e := newEnv(t)
	e.linked(t, db.RoleMember, "coach")

	res := e.send("coach", permission.Administrative, "/addmember Kim")
	assert.Equal(t, router.StateDenied, res.State)
	assert.Equal(t, permission.Leadership, res.Level)

	res = e.send("coach", permission.Administrative, "/pending")
	assert.Equal(t, router.StateDispatched, res.State)
}

func TestDualRoleDependsOnConversation(t *testing.T) {
	e := newEnv(t)
	e.linked(t, db.RolePlayer, "pat")
	e.linked(t, db.RoleMember, "pat")

	general := e.send("pat", permission.General, "/myinfo")
	admin := e.send("pat", permission.Administrative, "/myinfo")

	assert.Equal(t, permission.Player, general.Level)
	assert.Equal(t, permission.Leadership, admin.Level)

	res := e.send("pat", permission.General, "/pending")
	assert.Equal(t, router.StateDenied, res.State, "leadership actions are not available in the general chat")
}

func TestHelpListsOnlyAvailableActions(t *testing.T) {
	e := newEnv(t)
	e.linked(t, db.RolePlayer, "pat")

	res := e.send("pat", permission.General, "/help")
	require.Equal(t, router.StateDispatched, res.State)
	assert.Contains(t, res.Text, "/roster")
	assert.NotContains(t, res.Text, "/approve")
	assert.NotContains(t, res.Text, "/expire")
}

func TestSystemActionNeverAvailableToChatUsers(t *testing.T) {
	e := newEnv(t)
	e.linked(t, db.RoleAdmin, "admin")

	res := e.send("admin", permission.Administrative, "/expire")
	assert.Equal(t, router.StateDenied, res.State)
}

func TestUsageErrors(t *testing.T) {
	e := newEnv(t)
	e.linked(t, db.RoleAdmin, "admin")

	res := e.send("admin", permission.Administrative, "/approve")
	assert.Equal(t, "usage: /approve <record id>", res.Text)

	res = e.send("admin", permission.Administrative, "/approve missing-id")
	assert.Equal(t, "No roster record with that id.", res.Text)

	res = e.send("admin", permission.Administrative, "/revoke nope")
	assert.Equal(t, "No invitation with that id.", res.Text)
}

func TestPhoneSharingLinksRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.roster.Create(ctx, roster.NewParticipant{TeamID: "T", Name: "Jo", Role: db.RolePlayer, ContactPhone: "+44 7400 123456"})
	require.NoError(t, err)

	res := e.router.Handle(ctx, router.Message{
		ID:                "m",
		TeamID:            "T",
		ChatIdentity:      "jo",
		ConversationClass: permission.Direct,
		Text:              "/register",
		Structured:        true,
		Phone:             "447400123456",
	})
	require.Equal(t, router.StateDispatched, res.State)
	assert.True(t, res.NewBinding)
	assert.Contains(t, res.Text, "Jo (player)")
}
