// Package storetest holds the behavioural checks every db.Store backend
// must pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rostergate/rostergate/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the conformance suite against stores produced by factory.
// Each subtest gets a fresh store.
func Run(t *testing.T, factory func(t *testing.T) db.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Get(context.Background(), "team-1", "participant/none")
		assert.ErrorIs(t, err, db.ErrNotFound)
	})

	t.Run("PutThenGet", func(t *testing.T) {
		store := factory(t)
		defer store.Close()
		ctx := context.Background()

		doc := newDoc(t, "team-1", "participant/a", db.KindParticipant, map[string]string{"name": "a"})
		require.NoError(t, store.Put(ctx, "team-1", doc.Key, doc))

		got, err := store.Get(ctx, "team-1", doc.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, db.KindParticipant, got.Kind)
		assert.JSONEq(t, string(doc.Body), string(got.Body))

		require.NoError(t, store.Put(ctx, "team-1", doc.Key, doc))
		got, err = store.Get(ctx, "team-1", doc.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("TeamsAreIsolated", func(t *testing.T) {
		store := factory(t)
		defer store.Close()
		ctx := context.Background()

		doc := newDoc(t, "team-1", "participant/a", db.KindParticipant, map[string]string{"name": "a"})
		require.NoError(t, store.Put(ctx, "team-1", doc.Key, doc))

		_, err := store.Get(ctx, "team-2", doc.Key)
		assert.ErrorIs(t, err, db.ErrNotFound)
	})

	t.Run("FindByKindAndTeam", func(t *testing.T) {
		store := factory(t)
		defer store.Close()
		ctx := context.Background()

		for _, teamID := range []string{"team-1", "team-2"} {
			for i := 0; i < 2; i++ {
				key := fmt.Sprintf("participant/%d", i)
				require.NoError(t, store.Put(ctx, teamID, key, newDoc(t, teamID, key, db.KindParticipant, map[string]int{"n": i})))
			}
			require.NoError(t, store.Put(ctx, teamID, "invite/x", newDoc(t, teamID, "invite/x", db.KindInvitation, map[string]int{"n": 9})))
		}

		docs, err := store.Find(ctx, "team-1", db.KindParticipant, nil)
		require.NoError(t, err)
		assert.Len(t, docs, 2)
		for _, d := range docs {
			assert.Equal(t, "team-1", d.TeamID)
			assert.Equal(t, db.KindParticipant, d.Kind)
		}

		docs, err = store.Find(ctx, db.AnyTeam, db.KindParticipant, nil)
		require.NoError(t, err)
		assert.Len(t, docs, 4)

		docs, err = store.Find(ctx, db.AnyTeam, db.KindParticipant, func(d db.Document) bool {
			return d.Key == "participant/1"
		})
		require.NoError(t, err)
		assert.Len(t, docs, 2)
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		store := factory(t)
		defer store.Close()
		ctx := context.Background()

		doc := newDoc(t, "team-1", "invite/a", db.KindInvitation, map[string]string{"status": "active"})

		ok, err := store.CompareAndSwap(ctx, "team-1", doc.Key, 1, doc)
		require.NoError(t, err)
		assert.False(t, ok, "swap against a missing document must fail unless expected version is 0")

		ok, err = store.CompareAndSwap(ctx, "team-1", doc.Key, 0, doc)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.CompareAndSwap(ctx, "team-1", doc.Key, 0, doc)
		require.NoError(t, err)
		assert.False(t, ok, "create-only swap must fail once the document exists")

		updated := newDoc(t, "team-1", doc.Key, db.KindInvitation, map[string]string{"status": "used"})
		ok, err = store.CompareAndSwap(ctx, "team-1", doc.Key, 1, updated)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.CompareAndSwap(ctx, "team-1", doc.Key, 1, updated)
		require.NoError(t, err)
		assert.False(t, ok, "stale version must be rejected")

		got, err := store.Get(ctx, "team-1", doc.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.JSONEq(t, `{"status":"used"}`, string(got.Body))
	})

	t.Run("ConcurrentCompareAndSwapHasOneWinner", func(t *testing.T) {
		store := factory(t)
		defer store.Close()
		ctx := context.Background()

		doc := newDoc(t, "team-1", "invite/race", db.KindInvitation, map[string]string{"status": "active"})
		require.NoError(t, store.Put(ctx, "team-1", doc.Key, doc))

		const attempts = 16
		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := newDoc(t, "team-1", doc.Key, db.KindInvitation, map[string]int{"winner": i})
				ok, err := store.CompareAndSwap(ctx, "team-1", doc.Key, 1, next)
				if err == nil && ok {
					atomic.AddInt32(&wins, 1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins)
	})
}

func newDoc(t *testing.T, teamID string, key string, kind string, body any) db.Document {
	t.Helper()
	doc, err := db.EncodeDocument(teamID, key, kind, body)
	require.NoError(t, err)
	return doc
}
