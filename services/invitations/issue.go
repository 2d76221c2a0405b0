package invitations

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/pkg/token"
)

// Issued carries the secret token, which is shown once and never stored.
type Issued struct {
	Invitation db.Invitation `json:"invitation"`
	Token      string        `json:"token"`
	Link       string        `json:"link"`
}

type Issuer struct {
	service     *Service
	codec       *token.Codec
	botUsername string
	ttl         time.Duration
}

func NewIssuer(service *Service, codec *token.Codec, botUsername string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = db.DefaultInvitationTTL
	}
	return &Issuer{
		service:     service,
		codec:       codec,
		botUsername: strings.TrimPrefix(botUsername, "@"),
		ttl:         ttl,
	}
}

// Issue creates an invitation pre-bound to target and returns the signed
// token together with its deep link.
func (i *Issuer) Issue(ctx context.Context, target db.Participant, createdBy string) (Issued, error) {
	if target.ID == "" || target.TeamID == "" {
		return Issued{}, &db.ValidationError{Message: "invitation target must be a stored roster record"}
	}
	if target.IsBound() {
		return Issued{}, &db.ValidationError{Message: "roster record is already linked"}
	}

	now := i.service.Now()
	inv := db.Invitation{
		ID:             db.NewID(),
		TeamID:         target.TeamID,
		TargetRecordID: target.ID,
		Role:           target.Role,
		CreatedBy:      createdBy,
		Created:        now,
		ExpiresAt:      now.Add(i.ttl),
	}

	tok, sig, err := i.codec.Encode(TokenPayload(inv))
	if err != nil {
		return Issued{}, err
	}
	inv.Signature = sig

	if _, err = i.service.Create(ctx, inv); err != nil {
		return Issued{}, err
	}
	inv.Status = db.InvitationActive

	return Issued{
		Invitation: inv,
		Token:      tok,
		Link:       DeepLink(i.botUsername, tok),
	}, nil
}

// TokenPayload is the part of a stored invitation its token signs.
func TokenPayload(inv db.Invitation) token.Payload {
	return token.Payload{
		InviteID: inv.ID,
		RecordID: inv.TargetRecordID,
		TeamID:   inv.TeamID,
		Role:     string(inv.Role),
	}
}

// DeepLink builds the chat link that starts a conversation with the bot
// and passes tok as the start parameter.
func DeepLink(botUsername string, tok string) string {
	u := url.URL{
		Scheme:   "https",
		Host:     "t.me",
		Path:     "/" + strings.TrimPrefix(botUsername, "@"),
		RawQuery: "start=" + url.QueryEscape(tok),
	}
	return u.String()
}
