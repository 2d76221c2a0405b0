package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/pkg/phone"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyLinked is returned when the record carries a chat identity.
	ErrAlreadyLinked = errors.New("roster record is already linked")
	// ErrKindAlreadyBound is returned when the identity already owns a
	// record of the same kind in the team.
	ErrKindAlreadyBound = errors.New("identity already linked to a record of this kind")
)

const maxSwapAttempts = 5

type Service struct {
	store db.Store
	phone *phone.Normalizer
	now   func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store db.Store, normalizer *phone.Normalizer, opts ...Option) *Service {
	s := &Service{store: store, phone: normalizer, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type NewParticipant struct {
	TeamID       string     `json:"team_id"`
	Name         string     `json:"name"`
	Role         db.RoleTag `json:"role"`
	ContactPhone string     `json:"contact_phone,omitempty"`
	CreatedBy    string     `json:"-"`
}

// Create adds a PENDING record. The contact phone, when given, is stored
// in canonical form so it can be matched later.
func (s *Service) Create(ctx context.Context, req NewParticipant) (db.Participant, error) {
	now := s.now().UTC()
	p := db.Participant{
		ID:        db.NewID(),
		TeamID:    strings.TrimSpace(req.TeamID),
		Name:      strings.TrimSpace(req.Name),
		Role:      req.Role,
		Status:    db.ParticipantPending,
		CreatedBy: req.CreatedBy,
		Created:   now,
		Updated:   now,
	}

	if req.ContactPhone != "" {
		canonical, err := s.phone.Canonical(req.ContactPhone)
		if err != nil {
			return db.Participant{}, &db.ValidationError{Message: "contact phone is invalid"}
		}
		p.ContactPhone = canonical
	}

	if err := db.ValidateParticipant(p); err != nil {
		return db.Participant{}, err
	}

	doc, err := db.EncodeDocument(p.TeamID, db.ParticipantKey(p.ID), db.KindParticipant, p)
	if err != nil {
		return db.Participant{}, err
	}

	ok, err := s.store.CompareAndSwap(ctx, p.TeamID, doc.Key, 0, doc)
	if err != nil {
		return db.Participant{}, err
	}
	if !ok {
		return db.Participant{}, &db.ValidationError{Message: "roster record id already exists"}
	}

	log.WithFields(log.Fields{
		"context": "roster",
		"team":    p.TeamID,
		"record":  p.ID,
		"role":    p.Role,
	}).Info("roster record created")

	return p, nil
}

func (s *Service) Get(ctx context.Context, teamID string, recordID string) (db.Participant, error) {
	p, _, err := s.load(ctx, teamID, recordID)
	return p, err
}

func (s *Service) load(ctx context.Context, teamID string, recordID string) (p db.Participant, version int64, err error) {
	doc, err := s.store.Get(ctx, teamID, db.ParticipantKey(recordID))
	if err != nil {
		return
	}
	err = db.DecodeDocument(doc, &p)
	version = doc.Version
	return
}

// update applies fn under compare-and-swap, retrying when another writer
// got there first.
func (s *Service) update(ctx context.Context, teamID string, recordID string, fn func(p *db.Participant) error) (db.Participant, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		p, version, err := s.load(ctx, teamID, recordID)
		if err != nil {
			return db.Participant{}, err
		}

		if err = fn(&p); err != nil {
			return db.Participant{}, err
		}
		p.Updated = s.now().UTC()

		doc, err := db.EncodeDocument(teamID, db.ParticipantKey(recordID), db.KindParticipant, p)
		if err != nil {
			return db.Participant{}, err
		}

		ok, err := s.store.CompareAndSwap(ctx, teamID, doc.Key, version, doc)
		if err != nil {
			return db.Participant{}, err
		}
		if ok {
			return p, nil
		}
	}
	return db.Participant{}, db.ErrVersionConflict
}

type ListFilter struct {
	Status db.ParticipantStatus
	Kind   db.ParticipantKind
}

func (s *Service) List(ctx context.Context, teamID string, filter ListFilter) ([]db.Participant, error) {
	return s.find(ctx, teamID, func(p db.Participant) bool {
		if filter.Status != "" && p.Status != filter.Status {
			return false
		}
		if filter.Kind != "" && p.Kind() != filter.Kind {
			return false
		}
		return true
	})
}

func (s *Service) find(ctx context.Context, teamID string, accept func(p db.Participant) bool) ([]db.Participant, error) {
	docs, err := s.store.Find(ctx, teamID, db.KindParticipant, nil)
	if err != nil {
		return nil, err
	}

	res := make([]db.Participant, 0)
	for _, doc := range docs {
		var p db.Participant
		if err := db.DecodeDocument(doc, &p); err != nil {
			return nil, err
		}
		if accept(p) {
			res = append(res, p)
		}
	}

	sort.SliceStable(res, func(i, j int) bool {
		if res[i].TeamID != res[j].TeamID {
			return res[i].TeamID < res[j].TeamID
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// BoundRecords returns the records linked to chatIdentity in the team,
// whatever their status.
func (s *Service) BoundRecords(ctx context.Context, teamID string, chatIdentity string) ([]db.Participant, error) {
	if chatIdentity == "" {
		return nil, nil
	}
	return s.find(ctx, teamID, func(p db.Participant) bool {
		return p.ChatIdentity == chatIdentity
	})
}

// PendingByPhone returns unlinked PENDING records with the given phone in
// every team.
func (s *Service) PendingByPhone(ctx context.Context, rawPhone string) ([]db.Participant, error) {
	canonical, err := s.phone.Canonical(rawPhone)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, db.AnyTeam, func(p db.Participant) bool {
		return p.Status == db.ParticipantPending && !p.IsBound() && p.ContactPhone == canonical
	})
}

// Bind links chatIdentity to the record and activates it. The identity
// keeps at most one record per kind in a team.
func (s *Service) Bind(ctx context.Context, teamID string, recordID string, chatIdentity string) (db.Participant, error) {
	if chatIdentity == "" {
		return db.Participant{}, &db.ValidationError{Message: "chat identity cannot be empty"}
	}

	target, _, err := s.load(ctx, teamID, recordID)
	if err != nil {
		return db.Participant{}, err
	}
	if target.IsBound() {
		return db.Participant{}, ErrAlreadyLinked
	}

	if err = s.claimKind(ctx, teamID, chatIdentity, target.Kind(), recordID); err != nil {
		return db.Participant{}, err
	}

	p, err := s.update(ctx, teamID, recordID, func(p *db.Participant) error {
		if p.IsBound() {
			return ErrAlreadyLinked
		}
		if p.Status == db.ParticipantRejected {
			return fmt.Errorf("%w: record was rejected", db.ErrInvalidOperation)
		}
		now := s.now().UTC()
		p.ChatIdentity = chatIdentity
		p.LinkedAt = &now
		if p.Status == db.ParticipantPending {
			p.Status = db.ParticipantActive
		}
		return nil
	})
	if err != nil {
		s.releaseClaim(ctx, teamID, chatIdentity, target.Kind(), recordID)
		return db.Participant{}, err
	}

	log.WithFields(log.Fields{
		"context": "roster",
		"team":    teamID,
		"record":  recordID,
		"kind":    p.Kind(),
	}).Info("roster record linked")

	return p, nil
}

// claimKind records that chatIdentity owns recordID for kind. A claim is
// free when it was released, when its record is gone, or when its record
// ended up linked to someone else or rejected before linking. A claim on
// an unlinked record is a bind in progress and blocks.
func (s *Service) claimKind(ctx context.Context, teamID string, chatIdentity string, kind db.ParticipantKind, recordID string) error {
	key := db.BindingKey(chatIdentity, kind)

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		var expected int64

		doc, err := s.store.Get(ctx, teamID, key)
		switch {
		case err == nil:
			var claim db.Binding
			if err = db.DecodeDocument(doc, &claim); err != nil {
				return err
			}
			if claim.RecordID != "" && claim.RecordID != recordID {
				owner, _, err := s.load(ctx, teamID, claim.RecordID)
				if err != nil && !errors.Is(err, db.ErrNotFound) {
					return err
				}
				if err == nil && claimHeld(owner, chatIdentity) {
					return ErrKindAlreadyBound
				}
			}
			expected = doc.Version
		case errors.Is(err, db.ErrNotFound):
			expected = 0
		default:
			return err
		}

		ok, err := s.writeClaim(ctx, teamID, key, expected, db.Binding{
			ChatIdentity: chatIdentity,
			Kind:         kind,
			RecordID:     recordID,
		})
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return db.ErrVersionConflict
}

func claimHeld(owner db.Participant, chatIdentity string) bool {
	if owner.IsBound() {
		return owner.ChatIdentity == chatIdentity
	}
	return owner.Status != db.ParticipantRejected
}

func (s *Service) writeClaim(ctx context.Context, teamID string, key string, expected int64, claim db.Binding) (bool, error) {
	doc, err := db.EncodeDocument(teamID, key, db.KindBinding, claim)
	if err != nil {
		return false, err
	}
	return s.store.CompareAndSwap(ctx, teamID, key, expected, doc)
}

// releaseClaim frees the claim if it still points at recordID.
func (s *Service) releaseClaim(ctx context.Context, teamID string, chatIdentity string, kind db.ParticipantKind, recordID string) {
	key := db.BindingKey(chatIdentity, kind)

	doc, err := s.store.Get(ctx, teamID, key)
	if err != nil {
		return
	}
	var claim db.Binding
	if db.DecodeDocument(doc, &claim) != nil || claim.RecordID != recordID {
		return
	}

	claim.RecordID = ""
	if _, err = s.writeClaim(ctx, teamID, key, doc.Version, claim); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"context": "roster",
			"team":    teamID,
			"record":  recordID,
		}).Warn("failed to release binding claim")
	}
}

// Approve moves an ACTIVE record to APPROVED.
func (s *Service) Approve(ctx context.Context, teamID string, recordID string, actor string) (db.Participant, error) {
	return s.decide(ctx, teamID, recordID, actor, db.ParticipantApproved)
}

// Reject moves an ACTIVE record to REJECTED.
func (s *Service) Reject(ctx context.Context, teamID string, recordID string, actor string) (db.Participant, error) {
	return s.decide(ctx, teamID, recordID, actor, db.ParticipantRejected)
}

func (s *Service) decide(ctx context.Context, teamID string, recordID string, actor string, status db.ParticipantStatus) (db.Participant, error) {
	p, err := s.update(ctx, teamID, recordID, func(p *db.Participant) error {
		if p.Status != db.ParticipantActive {
			return fmt.Errorf("%w: record is %s", db.ErrInvalidOperation, p.Status)
		}
		p.Status = status
		return nil
	})
	if err != nil {
		return db.Participant{}, err
	}

	log.WithFields(log.Fields{
		"context": "roster",
		"team":    teamID,
		"record":  recordID,
		"status":  status,
		"actor":   actor,
	}).Info("roster record decided")

	return p, nil
}
