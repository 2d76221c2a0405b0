package factory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rostergate/rostergate/db/bolt"
	"github.com/rostergate/rostergate/db/memory"
	"github.com/rostergate/rostergate/db/sql"
	"github.com/rostergate/rostergate/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateStore(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name  string
		cfg   util.ConfigType
		check func(t *testing.T, v any)
	}{
		{
			name: "memory",
			cfg:  util.ConfigType{Dialect: util.DbDialectMemory},
			check: func(t *testing.T, v any) {
				assert.IsType(t, &memory.Store{}, v)
			},
		},
		{
			name: "bolt",
			cfg:  util.ConfigType{Dialect: util.DbDialectBolt, BoltPath: filepath.Join(dir, "bolt.db"), StoreTimeout: time.Second},
			check: func(t *testing.T, v any) {
				assert.IsType(t, &bolt.BoltDb{}, v)
			},
		},
		{
			name: "sqlite",
			cfg:  util.ConfigType{Dialect: util.DbDialectSQLite, SqlDSN: "file:" + filepath.Join(dir, "sql.db"), StoreTimeout: time.Second},
			check: func(t *testing.T, v any) {
				assert.IsType(t, &sql.SqlDb{}, v)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := CreateStore(&tc.cfg)
			require.NoError(t, err)
			defer store.Close()
			tc.check(t, store)
		})
	}

	_, err := CreateStore(&util.ConfigType{Dialect: "oracle"})
	assert.Error(t, err)
}
