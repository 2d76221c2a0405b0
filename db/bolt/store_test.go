package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/db/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func CreateTestStore(t *testing.T) *BoltDb {
	t.Helper()
	store, err := CreateBoltDB(filepath.Join(t.TempDir(), "rostergate.db"), time.Second)
	require.NoError(t, err)
	return store
}

func TestBoltStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) db.Store {
		return CreateTestStore(t)
	})
}

func TestBoltStore_BucketPerTeam(t *testing.T) {
	store := CreateTestStore(t)
	defer store.Close()

	doc, err := db.EncodeDocument("team-7", "participant/p1", db.KindParticipant, map[string]string{"name": "p1"})
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "team-7", doc.Key, doc))

	err = store.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("team__team-7"))
		assert.NotNil(t, b)
		if b != nil {
			assert.NotNil(t, b.Get([]byte("participant/p1")))
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestBoltStore_CanceledContext(t *testing.T) {
	store := CreateTestStore(t)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "team-1", "participant/p1")
	assert.ErrorIs(t, err, context.Canceled)
}
