package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rostergate/rostergate/db"
	"go.etcd.io/bbolt"
)

const teamBucketPrefix = "team__"

// BoltDb keeps one bucket per team; every value is a storedDocument.
type BoltDb struct {
	db *bbolt.DB
}

type storedDocument struct {
	Kind    string          `json:"kind"`
	Version int64           `json:"version"`
	Body    json.RawMessage `json:"body"`
}

func CreateBoltDB(path string, timeout time.Duration) (*BoltDb, error) {
	conn, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, db.Unavailable(fmt.Errorf("open bolt database %s: %w", path, err))
	}
	return &BoltDb{db: conn}, nil
}

func teamBucket(teamID string) []byte {
	return []byte(teamBucketPrefix + teamID)
}

func (d *BoltDb) Get(ctx context.Context, teamID string, key string) (doc db.Document, err error) {
	if err = ctx.Err(); err != nil {
		return
	}

	err = d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(teamBucket(teamID))
		if b == nil {
			return db.ErrNotFound
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return db.ErrNotFound
		}
		doc, err = unmarshalDocument(teamID, key, raw)
		return err
	})

	err = mapError(err)
	return
}

func (d *BoltDb) Put(ctx context.Context, teamID string, key string, doc db.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return mapError(d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(teamBucket(teamID))
		if err != nil {
			return err
		}
		var version int64
		if raw := b.Get([]byte(key)); raw != nil {
			current, err := unmarshalDocument(teamID, key, raw)
			if err != nil {
				return err
			}
			version = current.Version
		}
		return putDocument(b, key, doc, version+1)
	}))
}

func (d *BoltDb) Find(ctx context.Context, teamID string, kind string, match func(db.Document) bool) (res []db.Document, err error) {
	if err = ctx.Err(); err != nil {
		return
	}

	res = make([]db.Document, 0)

	err = d.db.View(func(tx *bbolt.Tx) error {
		scan := func(tid string, b *bbolt.Bucket) error {
			return b.ForEach(func(k, v []byte) error {
				doc, err := unmarshalDocument(tid, string(k), v)
				if err != nil {
					return err
				}
				if doc.Kind != kind {
					return nil
				}
				if match != nil && !match(doc) {
					return nil
				}
				res = append(res, doc)
				return nil
			})
		}

		if teamID != db.AnyTeam {
			b := tx.Bucket(teamBucket(teamID))
			if b == nil {
				return nil
			}
			return scan(teamID, b)
		}

		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if !bytes.HasPrefix(name, []byte(teamBucketPrefix)) {
				return nil
			}
			return scan(string(name[len(teamBucketPrefix):]), b)
		})
	})

	if err != nil {
		return nil, mapError(err)
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].TeamID != res[j].TeamID {
			return res[i].TeamID < res[j].TeamID
		}
		return res[i].Key < res[j].Key
	})
	return
}

// CompareAndSwap relies on bbolt serializing writable transactions: the
// version read and the write happen inside one Update.
func (d *BoltDb) CompareAndSwap(ctx context.Context, teamID string, key string, expectedVersion int64, doc db.Document) (swapped bool, err error) {
	if err = ctx.Err(); err != nil {
		return
	}

	err = d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(teamBucket(teamID))
		if err != nil {
			return err
		}

		raw := b.Get([]byte(key))
		switch {
		case raw == nil && expectedVersion != 0:
			return nil
		case raw != nil:
			current, err := unmarshalDocument(teamID, key, raw)
			if err != nil {
				return err
			}
			if current.Version != expectedVersion {
				return nil
			}
		}

		if err := putDocument(b, key, doc, expectedVersion+1); err != nil {
			return err
		}
		swapped = true
		return nil
	})

	err = mapError(err)
	return
}

func (d *BoltDb) Close() error {
	return d.db.Close()
}

func putDocument(b *bbolt.Bucket, key string, doc db.Document, version int64) error {
	j, err := json.Marshal(storedDocument{
		Kind:    doc.Kind,
		Version: version,
		Body:    json.RawMessage(doc.Body),
	})
	if err != nil {
		return err
	}
	return b.Put([]byte(key), j)
}

func unmarshalDocument(teamID string, key string, raw []byte) (db.Document, error) {
	var stored storedDocument
	if err := json.Unmarshal(raw, &stored); err != nil {
		return db.Document{}, fmt.Errorf("decode bolt document %s: %w", key, err)
	}
	return db.Document{
		TeamID:  teamID,
		Key:     key,
		Kind:    stored.Kind,
		Version: stored.Version,
		Body:    []byte(stored.Body),
	}, nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return err
	case errors.Is(err, bbolt.ErrDatabaseNotOpen), errors.Is(err, bbolt.ErrTimeout):
		return db.Unavailable(err)
	default:
		return err
	}
}
