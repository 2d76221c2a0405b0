package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	log "github.com/sirupsen/logrus"
)

type migration struct {
	Version string
	Apply   func(d *SqlDb) []string
}

var migrations = []migration{
	{
		Version: "1.0.0",
		Apply: func(d *SqlDb) []string {
			return []string{
				"create table if not exists document (" +
					"team_id varchar(64) not null, " +
					"doc_key varchar(160) not null, " +
					"kind varchar(32) not null, " +
					"version bigint not null, " +
					"body text not null, " +
					"primary key (team_id, doc_key))",
			}
		},
	},
	{
		Version: "1.1.0",
		Apply: func(d *SqlDb) []string {
			if d.dialect == DialectMySQL {
				return []string{"create index document_kind_idx on document (kind, team_id)"}
			}
			return []string{"create index if not exists document_kind_idx on document (kind, team_id)"}
		},
	},
}

func (d *SqlDb) IsMigrationApplied(ctx context.Context, version string) (bool, error) {
	query, args, err := d.builder().
		Select("count(*)").
		From("migration").
		Where(squirrel.Eq{"version": version}).
		ToSql()
	if err != nil {
		return false, err
	}

	count, err := d.sql.WithContext(ctx).SelectInt(query, args...)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Migrate brings the schema up to date. Each migration runs in its own
// transaction together with its bookkeeping row.
func (d *SqlDb) Migrate(ctx context.Context) error {
	_, err := d.sql.WithContext(ctx).Exec(
		"create table if not exists migration (version varchar(32) not null primary key, upgraded_date varchar(40))")
	if err != nil {
		return mapError(fmt.Errorf("create migration table: %w", err))
	}

	for _, m := range migrations {
		applied, err := d.IsMigrationApplied(ctx, m.Version)
		if err != nil {
			return mapError(err)
		}
		if applied {
			continue
		}

		if err := d.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}

		log.WithFields(log.Fields{
			"context": "migration",
			"version": m.Version,
			"dialect": d.dialect,
		}).Info("migration applied")
	}

	return nil
}

func (d *SqlDb) applyMigration(ctx context.Context, m migration) (err error) {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	exec := tx.WithContext(ctx)
	for _, stmt := range m.Apply(d) {
		if _, err = exec.Exec(stmt); err != nil {
			return
		}
	}

	query, args, err := d.builder().
		Insert("migration").
		Columns("version", "upgraded_date").
		Values(m.Version, time.Now().UTC().Format(time.RFC3339)).
		ToSql()
	if err != nil {
		return
	}

	if _, err = exec.Exec(query, args...); err != nil {
		return
	}

	return tx.Commit()
}
