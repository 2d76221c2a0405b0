package permission

import (
	"context"

	"github.com/rostergate/rostergate/db"
)

type Records interface {
	BoundRecords(ctx context.Context, teamID string, chatIdentity string) ([]db.Participant, error)
}

type Resolver struct {
	records Records
	system  map[string]bool
}

type Option func(*Resolver)

// WithSystemIdentities grants System to internal callers such as
// scheduled jobs. Chat users are never system identities.
func WithSystemIdentities(ids ...string) Option {
	return func(r *Resolver) {
		for _, id := range ids {
			r.system[id] = true
		}
	}
}

func NewResolver(records Records, opts ...Option) *Resolver {
	r := &Resolver{records: records, system: map[string]bool{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveLevel looks up the identity's records in the team and applies
// LevelFor.
func (r *Resolver) ResolveLevel(ctx context.Context, chatIdentity string, teamID string, class ConversationClass) (Level, error) {
	if r.system[chatIdentity] {
		return System, nil
	}
	if chatIdentity == "" {
		return Public, nil
	}

	records, err := r.records.BoundRecords(ctx, teamID, chatIdentity)
	if err != nil {
		return Public, err
	}
	return LevelFor(records, class), nil
}

// LevelFor derives the level from the records visible in one
// conversation class. The Member record counts only in administrative
// conversations and the Player record only elsewhere; the two are never
// combined.
func LevelFor(records []db.Participant, class ConversationClass) Level {
	level := Public

	for _, p := range records {
		if !p.IsEngaged() {
			continue
		}

		switch p.Kind() {
		case db.KindMember:
			if class != Administrative {
				continue
			}
			if p.Role == db.RoleAdmin {
				level = max(level, Admin)
			} else {
				level = max(level, Leadership)
			}
		case db.KindPlayer:
			if class == Administrative {
				continue
			}
			level = max(level, Player)
		}
	}

	return level
}
