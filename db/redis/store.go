package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rostergate/rostergate/db"
)

type Options struct {
	Addr          string
	DB            int
	User          string
	Pass          string
	TLS           bool
	TLSSkipVerify bool
	KeyPrefix     string
}

// Store keeps every document in a hash (kind, version, body). A set per
// (team, kind) indexes keys for Find and a global set lists known teams.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// casScript swaps the hash only when its version equals ARGV[1].
// A missing hash has version 0.
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
local expected = tonumber(ARGV[1])
if cur == false then
  if expected ~= 0 then return 0 end
elseif tonumber(cur) ~= expected then
  return 0
end
redis.call('HSET', KEYS[1], 'kind', ARGV[2], 'version', expected + 1, 'body', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
redis.call('SADD', KEYS[3], ARGV[5])
return 1
`)

var putScript = redis.NewScript(`
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'kind', ARGV[1], 'body', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[4])
return 1
`)

// NewClient opens a client for opts. It is shared by the document store
// and the delivery log.
func NewClient(opts Options) *redis.Client {
	var redisTLS *tls.Config
	if opts.TLS {
		redisTLS = &tls.Config{InsecureSkipVerify: opts.TLSSkipVerify}
	}

	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	return redis.NewClient(&redis.Options{
		Addr:      addr,
		DB:        opts.DB,
		Password:  opts.Pass,
		Username:  opts.User,
		TLSConfig: redisTLS,
	})
}

// Prefix returns the normalized key prefix for opts.
func Prefix(opts Options) string {
	p := opts.KeyPrefix
	if p == "" {
		p = "rostergate"
	}
	if !strings.HasSuffix(p, ":") {
		p += ":"
	}
	return p
}

func CreateRedisStore(opts Options) *Store {
	return &Store{client: NewClient(opts), keyPrefix: Prefix(opts)}
}

func (s *Store) key(parts ...string) string {
	return s.keyPrefix + strings.Join(parts, ":")
}

func (s *Store) docKey(teamID string, key string) string {
	return s.key("doc", teamID, key)
}

func (s *Store) indexKey(teamID string, kind string) string {
	return s.key("kind", kind, teamID)
}

func (s *Store) teamsKey() string {
	return s.key("teams")
}

func (s *Store) Ping(ctx context.Context) error {
	return mapError(s.client.Ping(ctx).Err())
}

func (s *Store) Get(ctx context.Context, teamID string, key string) (db.Document, error) {
	vals, err := s.client.HMGet(ctx, s.docKey(teamID, key), "kind", "version", "body").Result()
	if err != nil {
		return db.Document{}, mapError(err)
	}
	return decodeHash(teamID, key, vals)
}

func (s *Store) Put(ctx context.Context, teamID string, key string, doc db.Document) error {
	err := putScript.Run(ctx, s.client,
		[]string{s.docKey(teamID, key), s.indexKey(teamID, doc.Kind), s.teamsKey()},
		doc.Kind, string(doc.Body), key, teamID,
	).Err()
	return mapError(err)
}

func (s *Store) Find(ctx context.Context, teamID string, kind string, match func(db.Document) bool) ([]db.Document, error) {
	teams := []string{teamID}
	if teamID == db.AnyTeam {
		all, err := s.client.SMembers(ctx, s.teamsKey()).Result()
		if err != nil {
			return nil, mapError(err)
		}
		sort.Strings(all)
		teams = all
	}

	res := make([]db.Document, 0)
	for _, team := range teams {
		keys, err := s.client.SMembers(ctx, s.indexKey(team, kind)).Result()
		if err != nil {
			return nil, mapError(err)
		}
		sort.Strings(keys)

		for _, key := range keys {
			doc, err := s.Get(ctx, team, key)
			if errors.Is(err, db.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if doc.Kind != kind {
				continue
			}
			if match != nil && !match(doc) {
				continue
			}
			res = append(res, doc)
		}
	}
	return res, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, teamID string, key string, expectedVersion int64, doc db.Document) (bool, error) {
	n, err := casScript.Run(ctx, s.client,
		[]string{s.docKey(teamID, key), s.indexKey(teamID, doc.Kind), s.teamsKey()},
		expectedVersion, doc.Kind, string(doc.Body), key, teamID,
	).Int()
	if err != nil {
		return false, mapError(err)
	}
	return n == 1, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func decodeHash(teamID string, key string, vals []any) (db.Document, error) {
	if len(vals) != 3 || vals[1] == nil {
		return db.Document{}, db.ErrNotFound
	}

	kind, _ := vals[0].(string)
	rawVersion, _ := vals[1].(string)
	body, _ := vals[2].(string)

	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return db.Document{}, fmt.Errorf("document %s has invalid version %q", key, rawVersion)
	}

	return db.Document{
		TeamID:  teamID,
		Key:     key,
		Kind:    kind,
		Version: version,
		Body:    []byte(body),
	}, nil
}

func mapError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, redis.Nil) {
		return db.ErrNotFound
	}
	return db.Unavailable(err)
}
