package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/go-gorp/gorp/v3"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/rostergate/rostergate/db"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// SqlDb stores documents in a single "document" table keyed by
// (team_id, doc_key). Compare-and-swap is a conditional UPDATE on version.
type SqlDb struct {
	sql     *gorp.DbMap
	dialect Dialect
}

type documentRow struct {
	TeamID  string `db:"team_id"`
	Key     string `db:"doc_key"`
	Kind    string `db:"kind"`
	Version int64  `db:"version"`
	Body    string `db:"body"`
}

func (r documentRow) toDocument() db.Document {
	return db.Document{
		TeamID:  r.TeamID,
		Key:     r.Key,
		Kind:    r.Kind,
		Version: r.Version,
		Body:    []byte(r.Body),
	}
}

var documentColumns = []string{"team_id", "doc_key", "kind", "version", "body"}

func CreateDb(dialect Dialect, dsn string, timeout time.Duration) (*SqlDb, error) {
	var gorpDialect gorp.Dialect
	driver := string(dialect)

	switch dialect {
	case DialectSQLite:
		gorpDialect = gorp.SqliteDialect{}
	case DialectPostgres:
		gorpDialect = gorp.PostgresDialect{}
	case DialectMySQL:
		gorpDialect = gorp.MySQLDialect{Engine: "InnoDB", Encoding: "utf8mb4"}
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// sqlite allows a single writer; serialize through one connection
		conn.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, db.Unavailable(fmt.Errorf("ping %s: %w", dialect, err))
	}

	d := &SqlDb{
		sql:     &gorp.DbMap{Db: conn, Dialect: gorpDialect},
		dialect: dialect,
	}

	if err := d.Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return d, nil
}

func (d *SqlDb) builder() squirrel.StatementBuilderType {
	if d.dialect == DialectPostgres {
		return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	}
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
}

func (d *SqlDb) Get(ctx context.Context, teamID string, key string) (db.Document, error) {
	query, args, err := d.builder().
		Select(documentColumns...).
		From("document").
		Where(squirrel.Eq{"team_id": teamID, "doc_key": key}).
		ToSql()
	if err != nil {
		return db.Document{}, err
	}

	var row documentRow
	err = d.sql.WithContext(ctx).SelectOne(&row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Document{}, db.ErrNotFound
	}
	if err != nil {
		return db.Document{}, mapError(err)
	}
	return row.toDocument(), nil
}

// Put retries a read-then-swap until it wins; writes to one key are rare
// enough that contention is short.
func (d *SqlDb) Put(ctx context.Context, teamID string, key string, doc db.Document) error {
	for attempt := 0; attempt < 8; attempt++ {
		var expected int64
		current, err := d.Get(ctx, teamID, key)
		switch {
		case err == nil:
			expected = current.Version
		case errors.Is(err, db.ErrNotFound):
			expected = 0
		default:
			return err
		}

		ok, err := d.CompareAndSwap(ctx, teamID, key, expected, doc)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return db.ErrVersionConflict
}

func (d *SqlDb) Find(ctx context.Context, teamID string, kind string, match func(db.Document) bool) ([]db.Document, error) {
	q := d.builder().
		Select(documentColumns...).
		From("document").
		Where(squirrel.Eq{"kind": kind}).
		OrderBy("team_id", "doc_key")

	if teamID != db.AnyTeam {
		q = q.Where(squirrel.Eq{"team_id": teamID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []documentRow
	if _, err = d.sql.WithContext(ctx).Select(&rows, query, args...); err != nil {
		return nil, mapError(err)
	}

	res := make([]db.Document, 0, len(rows))
	for _, row := range rows {
		doc := row.toDocument()
		if match != nil && !match(doc) {
			continue
		}
		res = append(res, doc)
	}
	return res, nil
}

func (d *SqlDb) CompareAndSwap(ctx context.Context, teamID string, key string, expectedVersion int64, doc db.Document) (bool, error) {
	if expectedVersion == 0 {
		query, args, err := d.builder().
			Insert("document").
			Columns(documentColumns...).
			Values(teamID, key, doc.Kind, 1, string(doc.Body)).
			ToSql()
		if err != nil {
			return false, err
		}
		_, err = d.sql.WithContext(ctx).Exec(query, args...)
		if isUniqueViolation(err) {
			return false, nil
		}
		if err != nil {
			return false, mapError(err)
		}
		return true, nil
	}

	query, args, err := d.builder().
		Update("document").
		Set("kind", doc.Kind).
		Set("version", expectedVersion+1).
		Set("body", string(doc.Body)).
		Where(squirrel.Eq{"team_id": teamID, "doc_key": key, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return false, err
	}

	res, err := d.sql.WithContext(ctx).Exec(query, args...)
	if err != nil {
		return false, mapError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err)
	}
	return affected == 1, nil
}

func (d *SqlDb) Close() error {
	return d.sql.Db.Close()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mapError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return db.Unavailable(err)
}
