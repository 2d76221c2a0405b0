package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/db/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func CreateTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	store := CreateRedisStore(Options{Addr: srv.Addr(), KeyPrefix: "test"})
	t.Cleanup(func() { _ = store.Close() })
	return store, srv
}

func TestRedisStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) db.Store {
		store, _ := CreateTestStore(t)
		return store
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	store, srv := CreateTestStore(t)
	ctx := context.Background()

	doc := db.Document{Kind: db.KindInvitation, Body: []byte(`{"id":"a"}`)}
	require.NoError(t, store.Put(ctx, "team-1", "invite/a", doc))

	assert.True(t, srv.Exists("test:doc:team-1:invite/a"))
	members, err := srv.SMembers("test:kind:invitation:team-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"invite/a"}, members)
	assert.Equal(t, "1", srv.HGet("test:doc:team-1:invite/a", "version"))
}

func TestRedisStore_UnavailableIsTransient(t *testing.T) {
	store, srv := CreateTestStore(t)
	srv.Close()

	_, err := store.Get(context.Background(), "team-1", "invite/a")
	require.Error(t, err)
	assert.True(t, db.IsTransient(err))
}
