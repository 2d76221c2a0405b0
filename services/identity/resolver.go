package identity

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/pkg/phone"
	"github.com/rostergate/rostergate/pkg/token"
	"github.com/rostergate/rostergate/services/invitations"
	"github.com/rostergate/rostergate/services/roster"
	log "github.com/sirupsen/logrus"
)

// ErrAmbiguousMatch is returned when a phone number cannot be tied to a
// single record of each kind in a single team.
var ErrAmbiguousMatch = errors.New("phone number matches more than one roster record")

type Roster interface {
	Get(ctx context.Context, teamID string, recordID string) (db.Participant, error)
	BoundRecords(ctx context.Context, teamID string, chatIdentity string) ([]db.Participant, error)
	PendingByPhone(ctx context.Context, rawPhone string) ([]db.Participant, error)
	Bind(ctx context.Context, teamID string, recordID string, chatIdentity string) (db.Participant, error)
}

type Invitations interface {
	Get(ctx context.Context, teamID string, inviteID string) (db.Invitation, error)
	MarkUsed(ctx context.Context, teamID string, inviteID string, chatIdentity string) (invitations.Outcome, error)
}

type TokenVerifier interface {
	Parse(tok string) (token.Ref, error)
	Verify(ref token.Ref, p token.Payload) error
}

type Method string

const (
	MethodNone     Method = ""
	MethodExisting Method = "existing"
	MethodToken    Method = "token"
	MethodPhone    Method = "phone"
)

type ResolveRequest struct {
	ChatIdentity string
	TeamID       string
	Token        string
	Phone        string
}

type ResolvedIdentity struct {
	ChatIdentity string
	TeamID       string
	Records      []db.Participant
	IsNewBinding bool
	Method       Method
}

func (r ResolvedIdentity) Found() bool {
	return len(r.Records) > 0
}

type Resolver struct {
	roster  Roster
	invites Invitations
	codec   TokenVerifier
}

func NewResolver(r Roster, invites Invitations, codec TokenVerifier) *Resolver {
	return &Resolver{roster: r, invites: invites, codec: codec}
}

// Resolve finds the roster records of the sender in the team. Existing
// links come first, then an invitation token, then a phone match. It
// never creates roster records.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (ResolvedIdentity, error) {
	res := ResolvedIdentity{ChatIdentity: req.ChatIdentity, TeamID: req.TeamID}

	if req.ChatIdentity == "" || req.TeamID == "" {
		return res, &db.ValidationError{Message: "chat identity and team are required"}
	}

	existing, err := r.roster.BoundRecords(ctx, req.TeamID, req.ChatIdentity)
	if err != nil {
		return res, err
	}

	if req.Token != "" {
		linked, err := r.resolveToken(ctx, req, existing)
		if err != nil {
			return res, err
		}
		if linked != nil {
			res.Records = append(existing, *linked)
			res.IsNewBinding = true
			res.Method = MethodToken
			return res, nil
		}
	}

	if len(existing) > 0 {
		res.Records = existing
		res.Method = MethodExisting
		return res, nil
	}

	if req.Phone != "" {
		linked, err := r.resolvePhone(ctx, req)
		if err != nil {
			return res, err
		}
		if len(linked) > 0 {
			res.Records = linked
			res.IsNewBinding = true
			res.Method = MethodPhone
			return res, nil
		}
	}

	return res, nil
}

// fallThrough reports whether err should end the token attempt quietly.
// Only transient store failures are surfaced.
func fallThrough(err error) bool {
	return !db.IsTransient(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (r *Resolver) resolveToken(ctx context.Context, req ResolveRequest, existing []db.Participant) (*db.Participant, error) {
	logger := log.WithFields(log.Fields{
		"context": "identity",
		"team":    req.TeamID,
	})

	ref, err := r.codec.Parse(req.Token)
	if err != nil {
		logger.Info("invitation token rejected")
		return nil, nil
	}

	inv, err := r.invites.Get(ctx, req.TeamID, ref.InviteID)
	if err != nil {
		if fallThrough(err) {
			logger.Info("invitation for token not found")
			return nil, nil
		}
		return nil, err
	}

	if !hmac.Equal([]byte(inv.Signature), []byte(ref.Signature)) || r.codec.Verify(ref, invitations.TokenPayload(inv)) != nil {
		logger.Warn("invitation token does not match stored invitation")
		return nil, nil
	}

	target, err := r.roster.Get(ctx, req.TeamID, inv.TargetRecordID)
	if err != nil {
		if fallThrough(err) {
			logger.Warn("invitation target record is missing")
			return nil, nil
		}
		return nil, err
	}

	if target.IsBound() {
		logger.Info("invitation target is already linked")
		return nil, nil
	}

	for _, p := range existing {
		if p.Kind() == target.Kind() {
			logger.Info("identity already holds a record of the invited kind")
			return nil, nil
		}
	}

	// An earlier attempt by the same identity may have consumed the
	// invitation and then failed to bind. The target is still unbound,
	// so finish that attempt instead of consuming again.
	if inv.Status == db.InvitationUsed && inv.UsedBy == req.ChatIdentity {
		logger.Info("resuming invitation already consumed by this identity")
	} else {
		outcome, err := r.invites.MarkUsed(ctx, req.TeamID, inv.ID, req.ChatIdentity)
		if err != nil {
			if fallThrough(err) {
				return nil, nil
			}
			return nil, err
		}
		if outcome != invitations.OutcomeUsed {
			logger.WithField("outcome", outcome).Info("invitation not consumable")
			return nil, nil
		}
	}

	bound, err := r.roster.Bind(ctx, req.TeamID, target.ID, req.ChatIdentity)
	if err != nil {
		logger.WithError(err).Warn("invitation consumed but record could not be linked")
		if fallThrough(err) {
			return nil, nil
		}
		return nil, err
	}

	return &bound, nil
}

func (r *Resolver) resolvePhone(ctx context.Context, req ResolveRequest) ([]db.Participant, error) {
	matches, err := r.roster.PendingByPhone(ctx, req.Phone)
	if errors.Is(err, phone.ErrInvalidNumber) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	teams := map[string]bool{}
	perKind := map[db.ParticipantKind]int{}
	for _, p := range matches {
		teams[p.TeamID] = true
		perKind[p.Kind()]++
	}

	if len(teams) > 1 {
		return nil, fmt.Errorf("%w: %d teams", ErrAmbiguousMatch, len(teams))
	}
	if !teams[req.TeamID] {
		return nil, nil
	}
	for kind, n := range perKind {
		if n > 1 {
			return nil, fmt.Errorf("%w: %d %s records", ErrAmbiguousMatch, n, kind)
		}
	}

	linked := make([]db.Participant, 0, len(matches))
	for _, p := range matches {
		bound, err := r.roster.Bind(ctx, req.TeamID, p.ID, req.ChatIdentity)
		if errors.Is(err, roster.ErrAlreadyLinked) || errors.Is(err, roster.ErrKindAlreadyBound) || errors.Is(err, db.ErrInvalidOperation) {
			continue
		}
		if err != nil {
			return nil, err
		}
		linked = append(linked, bound)
	}

	if len(linked) > 0 {
		log.WithFields(log.Fields{
			"context": "identity",
			"team":    req.TeamID,
			"records": len(linked),
		}).Info("identity linked by phone")
	}

	return linked, nil
}
