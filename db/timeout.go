package db

import (
	"context"
	"time"
)

type timeoutStore struct {
	Store
	timeout time.Duration
}

// WithTimeout bounds every call to store by timeout. A zero timeout
// returns store unchanged.
func WithTimeout(store Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return store
	}
	return &timeoutStore{Store: store, timeout: timeout}
}

func (s *timeoutStore) Get(ctx context.Context, teamID string, key string) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.Store.Get(ctx, teamID, key)
}

func (s *timeoutStore) Put(ctx context.Context, teamID string, key string, doc Document) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.Store.Put(ctx, teamID, key, doc)
}

func (s *timeoutStore) Find(ctx context.Context, teamID string, kind string, match func(Document) bool) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.Store.Find(ctx, teamID, kind, match)
}

func (s *timeoutStore) CompareAndSwap(ctx context.Context, teamID string, key string, expectedVersion int64, doc Document) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.Store.CompareAndSwap(ctx, teamID, key, expectedVersion, doc)
}
