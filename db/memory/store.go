package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rostergate/rostergate/db"
)

// Store is an in-process db.Store. It is safe for concurrent use and is
// meant for tests and single-process deployments without persistence.
type Store struct {
	mu    sync.RWMutex
	teams map[string]map[string]db.Document // teamID -> key -> doc
}

func CreateStore() *Store {
	return &Store{
		teams: make(map[string]map[string]db.Document),
	}
}

func (s *Store) Get(_ context.Context, teamID string, key string) (db.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.teams[teamID][key]
	if !ok {
		return db.Document{}, db.ErrNotFound
	}
	return copyDoc(doc), nil
}

func (s *Store) Put(_ context.Context, teamID string, key string, doc db.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.teams[teamID][key]
	s.write(teamID, key, doc, current.Version+1)
	return nil
}

func (s *Store) Find(_ context.Context, teamID string, kind string, match func(db.Document) bool) ([]db.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]db.Document, 0)
	for tid, docs := range s.teams {
		if teamID != db.AnyTeam && tid != teamID {
			continue
		}
		for _, doc := range docs {
			if doc.Kind != kind {
				continue
			}
			if match != nil && !match(doc) {
				continue
			}
			res = append(res, copyDoc(doc))
		}
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].TeamID != res[j].TeamID {
			return res[i].TeamID < res[j].TeamID
		}
		return res[i].Key < res[j].Key
	})
	return res, nil
}

func (s *Store) CompareAndSwap(_ context.Context, teamID string, key string, expectedVersion int64, doc db.Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.teams[teamID][key]
	if !ok && expectedVersion != 0 {
		return false, nil
	}
	if ok && current.Version != expectedVersion {
		return false, nil
	}
	s.write(teamID, key, doc, expectedVersion+1)
	return true, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) write(teamID string, key string, doc db.Document, version int64) {
	docs, ok := s.teams[teamID]
	if !ok {
		docs = make(map[string]db.Document)
		s.teams[teamID] = docs
	}
	doc.TeamID = teamID
	doc.Key = key
	doc.Version = version
	docs[key] = copyDoc(doc)
}

func copyDoc(doc db.Document) db.Document {
	body := make([]byte, len(doc.Body))
	copy(body, doc.Body)
	doc.Body = body
	return doc
}
