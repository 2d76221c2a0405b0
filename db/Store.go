package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// AnyTeam passed as teamID to Find searches every team.
const AnyTeam = ""

const (
	KindParticipant = "participant"
	KindInvitation  = "invitation"
	KindBinding     = "binding"
)

// Document is the unit a Store persists. Body holds the JSON encoding of
// a Participant or an Invitation. Version starts at 1 and increases by one
// on every successful write.
type Document struct {
	TeamID  string `json:"team_id"`
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Version int64  `json:"version"`
	Body    []byte `json:"body"`
}

// Store is the document store collaborator. Implementations must make
// CompareAndSwap atomic: of any number of concurrent swaps against the same
// expected version at most one returns true.
type Store interface {
	// Get returns ErrNotFound when the key does not exist in the team.
	Get(ctx context.Context, teamID string, key string) (Document, error)

	// Put writes the document unconditionally.
	Put(ctx context.Context, teamID string, key string, doc Document) error

	// Find returns documents of the given kind accepted by match. With
	// AnyTeam every team is scanned. A nil match accepts everything.
	Find(ctx context.Context, teamID string, kind string, match func(Document) bool) ([]Document, error)

	// CompareAndSwap replaces the document only if its current version is
	// expectedVersion. An expectedVersion of 0 means "must not exist yet".
	CompareAndSwap(ctx context.Context, teamID string, key string, expectedVersion int64, doc Document) (bool, error)

	Close() error
}

// ErrVersionConflict is returned by helpers that give up after losing a
// compare-and-swap race.
var ErrVersionConflict = errors.New("document was modified concurrently")

// EncodeDocument packs v into a Document of the given kind.
func EncodeDocument(teamID string, key string, kind string, v any) (Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("encode %s %s: %w", kind, key, err)
	}
	return Document{
		TeamID: teamID,
		Key:    key,
		Kind:   kind,
		Body:   body,
	}, nil
}

// DecodeDocument unpacks the document body into v.
func DecodeDocument(doc Document, v any) error {
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", doc.Kind, doc.Key, err)
	}
	return nil
}
