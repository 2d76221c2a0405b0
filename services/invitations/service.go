package invitations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rostergate/rostergate/db"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvitationExpired     = errors.New("invitation has expired")
	ErrInvitationAlreadyUsed = errors.New("invitation has already been used")
	ErrInvitationRevoked     = errors.New("invitation has been revoked")
)

// Outcome is the result of a consumption attempt.
type Outcome string

const (
	OutcomeUsed        Outcome = "used"
	OutcomeAlreadyUsed Outcome = "already_used"
	OutcomeExpired     Outcome = "expired"
	OutcomeRevoked     Outcome = "revoked"
)

// Err maps a failed outcome to its sentinel error. It returns nil for
// OutcomeUsed.
func (o Outcome) Err() error {
	switch o {
	case OutcomeUsed:
		return nil
	case OutcomeAlreadyUsed:
		return ErrInvitationAlreadyUsed
	case OutcomeExpired:
		return ErrInvitationExpired
	case OutcomeRevoked:
		return ErrInvitationRevoked
	default:
		return fmt.Errorf("unknown invitation outcome %q", string(o))
	}
}

// maxSwapAttempts bounds the read-modify-swap loop. Every lost swap means
// another writer changed the invitation, and after at most two changes
// (used, expired or revoked) it is terminal.
const maxSwapAttempts = 5

type Service struct {
	store db.Store
	now   func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store db.Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// Create stores a new ACTIVE invitation and returns its id.
func (s *Service) Create(ctx context.Context, inv db.Invitation) (string, error) {
	if strings.TrimSpace(inv.TeamID) == "" {
		return "", &db.ValidationError{Message: "team id cannot be empty"}
	}
	if strings.TrimSpace(inv.TargetRecordID) == "" {
		return "", &db.ValidationError{Message: "invitation must target a roster record"}
	}
	if !inv.Role.IsValid() {
		return "", &db.ValidationError{Message: "invitation role is invalid"}
	}
	if inv.Signature == "" {
		return "", &db.ValidationError{Message: "invitation must carry a signature"}
	}

	if inv.ID == "" {
		inv.ID = db.NewID()
	}
	if inv.Created.IsZero() {
		inv.Created = s.Now()
	}
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = inv.Created.Add(db.DefaultInvitationTTL)
	}
	if !inv.ExpiresAt.After(inv.Created) {
		return "", &db.ValidationError{Message: "invitation must expire after it is created"}
	}

	inv.Status = db.InvitationActive
	inv.UsedBy = ""
	inv.UsedAt = nil

	doc, err := db.EncodeDocument(inv.TeamID, db.InvitationKey(inv.ID), db.KindInvitation, inv.ToRecord())
	if err != nil {
		return "", err
	}

	ok, err := s.store.CompareAndSwap(ctx, inv.TeamID, doc.Key, 0, doc)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &db.ValidationError{Message: "invitation id already exists"}
	}

	log.WithFields(log.Fields{
		"context":   "invitation",
		"team":      inv.TeamID,
		"invite":    inv.ID,
		"role":      inv.Role,
		"expiresAt": inv.ExpiresAt.Format(time.RFC3339),
	}).Info("invitation created")

	return inv.ID, nil
}

func (s *Service) Get(ctx context.Context, teamID string, inviteID string) (db.Invitation, error) {
	inv, _, err := s.load(ctx, teamID, inviteID)
	return inv, err
}

func (s *Service) load(ctx context.Context, teamID string, inviteID string) (db.Invitation, int64, error) {
	doc, err := s.store.Get(ctx, teamID, db.InvitationKey(inviteID))
	if err != nil {
		return db.Invitation{}, 0, err
	}
	inv, err := db.InvitationFromDocument(doc)
	if err != nil {
		return db.Invitation{}, 0, err
	}
	return inv, doc.Version, nil
}

func (s *Service) swap(ctx context.Context, inv db.Invitation, version int64) (bool, error) {
	doc, err := db.EncodeDocument(inv.TeamID, db.InvitationKey(inv.ID), db.KindInvitation, inv.ToRecord())
	if err != nil {
		return false, err
	}
	return s.store.CompareAndSwap(ctx, inv.TeamID, doc.Key, version, doc)
}

// MarkUsed consumes the invitation for chatIdentity. Of any number of
// concurrent calls exactly one observes OutcomeUsed; the rest observe
// OutcomeAlreadyUsed. An ACTIVE invitation found past its expiry is moved
// to EXPIRED.
func (s *Service) MarkUsed(ctx context.Context, teamID string, inviteID string, chatIdentity string) (Outcome, error) {
	if chatIdentity == "" {
		return "", &db.ValidationError{Message: "chat identity cannot be empty"}
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		inv, version, err := s.load(ctx, teamID, inviteID)
		if err != nil {
			return "", err
		}

		switch inv.Status {
		case db.InvitationUsed:
			return OutcomeAlreadyUsed, nil
		case db.InvitationRevoked:
			return OutcomeRevoked, nil
		case db.InvitationExpired:
			return OutcomeExpired, nil
		}

		now := s.Now()
		if !now.Before(inv.ExpiresAt) {
			inv.Status = db.InvitationExpired
			ok, err := s.swap(ctx, inv, version)
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
			return OutcomeExpired, nil
		}

		inv.Status = db.InvitationUsed
		inv.UsedBy = chatIdentity
		inv.UsedAt = &now

		ok, err := s.swap(ctx, inv, version)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}

		log.WithFields(log.Fields{
			"context": "invitation",
			"team":    teamID,
			"invite":  inviteID,
		}).Info("invitation used")

		return OutcomeUsed, nil
	}

	return "", db.ErrVersionConflict
}

// Revoke withdraws an ACTIVE invitation. Revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, teamID string, inviteID string) error {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		inv, version, err := s.load(ctx, teamID, inviteID)
		if err != nil {
			return err
		}

		switch inv.Status {
		case db.InvitationRevoked:
			return nil
		case db.InvitationUsed, db.InvitationExpired:
			return fmt.Errorf("%w: invitation is %s", db.ErrInvalidOperation, inv.Status)
		}

		inv.Status = db.InvitationRevoked
		ok, err := s.swap(ctx, inv, version)
		if err != nil {
			return err
		}
		if ok {
			log.WithFields(log.Fields{
				"context": "invitation",
				"team":    teamID,
				"invite":  inviteID,
			}).Info("invitation revoked")
			return nil
		}
	}
	return db.ErrVersionConflict
}

type ListFilter struct {
	Status   db.InvitationStatus
	RecordID string
}

func (f ListFilter) accepts(inv db.Invitation) bool {
	if f.Status != "" && inv.Status != f.Status {
		return false
	}
	if f.RecordID != "" && inv.TargetRecordID != f.RecordID {
		return false
	}
	return true
}

// List returns the team's invitations ordered by creation time.
func (s *Service) List(ctx context.Context, teamID string, filter ListFilter) ([]db.Invitation, error) {
	docs, err := s.store.Find(ctx, teamID, db.KindInvitation, nil)
	if err != nil {
		return nil, err
	}

	res := make([]db.Invitation, 0, len(docs))
	for _, doc := range docs {
		inv, err := db.InvitationFromDocument(doc)
		if err != nil {
			return nil, err
		}
		if filter.accepts(inv) {
			res = append(res, inv)
		}
	}

	sortByCreated(res)
	return res, nil
}

// ExpireStale moves every ACTIVE invitation past its expiry to EXPIRED
// across all teams and returns how many were changed.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	now := s.Now()

	docs, err := s.store.Find(ctx, db.AnyTeam, db.KindInvitation, nil)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, doc := range docs {
		inv, err := db.InvitationFromDocument(doc)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"context": "invitation",
				"team":    doc.TeamID,
				"key":     doc.Key,
			}).Warn("skipping undecodable invitation")
			continue
		}
		if inv.Status != db.InvitationActive || now.Before(inv.ExpiresAt) {
			continue
		}

		inv.Status = db.InvitationExpired
		ok, err := s.swap(ctx, inv, doc.Version)
		if err != nil {
			return expired, err
		}
		// a lost swap means the invitation was used or revoked meanwhile
		if ok {
			expired++
		}
	}

	return expired, nil
}

func sortByCreated(invs []db.Invitation) {
	sort.SliceStable(invs, func(i, j int) bool {
		if invs[i].Created.Equal(invs[j].Created) {
			return invs[i].ID < invs[j].ID
		}
		return invs[i].Created.Before(invs[j].Created)
	})
}
