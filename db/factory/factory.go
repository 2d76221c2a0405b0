package factory

import (
	"fmt"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/db/bolt"
	"github.com/rostergate/rostergate/db/memory"
	"github.com/rostergate/rostergate/db/redis"
	"github.com/rostergate/rostergate/db/sql"
	"github.com/rostergate/rostergate/util"
)

func CreateStore(cfg *util.ConfigType) (db.Store, error) {
	switch cfg.Dialect {
	case util.DbDialectBolt:
		return bolt.CreateBoltDB(cfg.BoltPath, cfg.StoreTimeout)
	case util.DbDialectMemory:
		return memory.CreateStore(), nil
	case util.DbDialectSQLite:
		return sql.CreateDb(sql.DialectSQLite, cfg.SqlDSN, cfg.StoreTimeout)
	case util.DbDialectPostgres:
		return sql.CreateDb(sql.DialectPostgres, cfg.SqlDSN, cfg.StoreTimeout)
	case util.DbDialectMySQL:
		return sql.CreateDb(sql.DialectMySQL, cfg.SqlDSN, cfg.StoreTimeout)
	case util.DbDialectRedis:
		return redis.CreateRedisStore(RedisOptions(cfg.Redis)), nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
}

func RedisOptions(cfg util.RedisConfig) redis.Options {
	return redis.Options{
		Addr:          cfg.Addr,
		DB:            cfg.DB,
		User:          cfg.User,
		Pass:          cfg.Pass,
		TLS:           cfg.TLS,
		TLSSkipVerify: cfg.TLSSkipVerify,
		KeyPrefix:     cfg.KeyPrefix,
	}
}
