package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rostergate/rostergate/api/teams"
	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/db/memory"
	"github.com/rostergate/rostergate/pkg/phone"
	"github.com/rostergate/rostergate/pkg/token"
	"github.com/rostergate/rostergate/services/invitations"
	"github.com/rostergate/rostergate/services/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "admin-token"

func newTestServer(t *testing.T, webhook http.Handler) *httptest.Server {
	t.Helper()
	store := memory.CreateStore()

	codec, err := token.NewCodec(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)

	inviteSvc := invitations.NewService(store)
	h := Route(Options{
		Teams: &teams.Controller{
			Roster:      roster.NewService(store, phone.NewNormalizer("GB")),
			Invitations: inviteSvc,
			Issuer:      invitations.NewIssuer(inviteSvc, codec, "team_bot", 0),
		},
		APIToken:      testToken,
		Webhook:       webhook,
		WebhookSecret: "hook-secret",
		AccessLog:     io.Discard,
	})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method string, path string, body string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestPing(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := srv.Client().Get(srv.URL + "/api/ping")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminAPI_RequiresToken(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := srv.Client().Get(srv.URL + "/api/teams/T/participants")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/teams/T/participants", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestAdminAPI_ParticipantLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	var created struct {
		Participant db.Participant     `json:"participant"`
		Invitation  invitations.Issued `json:"invitation"`
	}
	code := call(t, srv, http.MethodPost, "/api/teams/T/participants",
		`{"name":"Sam Smith","role":"player","contact_phone":"07400 123456"}`, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, db.ParticipantPending, created.Participant.Status)
	assert.Equal(t, "+447400123456", created.Participant.ContactPhone)
	assert.NotEmpty(t, created.Invitation.Token)
	assert.True(t, strings.HasPrefix(created.Invitation.Link, "https://t.me/team_bot?start="))

	var list []db.Participant
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/teams/T/participants?status=pending", "", &list))
	require.Len(t, list, 1)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/teams/T/participants?status=active", "", &list))
	assert.Empty(t, list)

	var one db.Participant
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/teams/T/participants/"+created.Participant.ID, "", &one))
	assert.Equal(t, "Sam Smith", one.Name)

	// an unlinked record cannot be approved yet
	assert.Equal(t, http.StatusConflict,
		call(t, srv, http.MethodPost, "/api/teams/T/participants/"+created.Participant.ID+"/approve", "", nil))

	// records are scoped to their team
	assert.Equal(t, http.StatusNotFound,
		call(t, srv, http.MethodGet, "/api/teams/OTHER/participants/"+created.Participant.ID, "", nil))
}

func TestAdminAPI_Invitations(t *testing.T) {
	srv := newTestServer(t, nil)

	var created struct {
		Participant db.Participant     `json:"participant"`
		Invitation  invitations.Issued `json:"invitation"`
	}
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/api/teams/T/participants",
		`{"name":"Alex","role":"member"}`, &created))

	var reissued invitations.Issued
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost,
		"/api/teams/T/participants/"+created.Participant.ID+"/invitations", "", &reissued))

	var invites []db.Invitation
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet,
		"/api/teams/T/invitations?record_id="+created.Participant.ID, "", &invites))
	require.Len(t, invites, 2)

	id := created.Invitation.Invitation.ID
	assert.Equal(t, http.StatusNoContent, call(t, srv, http.MethodDelete, "/api/teams/T/invitations/"+id, "", nil))
	assert.Equal(t, http.StatusNoContent, call(t, srv, http.MethodDelete, "/api/teams/T/invitations/"+id, "", nil))

	var got db.Invitation
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/teams/T/invitations/"+id, "", &got))
	assert.Equal(t, db.InvitationRevoked, got.Status)

	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/api/teams/T/invitations/missing", "", nil))
	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodGet, "/api/teams/T/invitations?status=bogus", "", nil))
}

func TestAdminAPI_Validation(t *testing.T) {
	srv := newTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodPost, "/api/teams/T/participants", `{`, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodPost, "/api/teams/T/participants", `{"name":"","role":"player"}`, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodPost, "/api/teams/T/participants", `{"name":"Kim","role":"coach"}`, nil))
}

func TestWebhookRoute(t *testing.T) {
	hits := 0
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))

	resp, err := srv.Client().Post(srv.URL+"/telegram/webhook/wrong", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = srv.Client().Post(srv.URL+"/telegram/webhook/hook-secret", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, hits)
}
