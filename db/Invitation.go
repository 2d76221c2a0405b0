package db

import (
	"time"
)

type InvitationStatus string

const (
	InvitationActive  InvitationStatus = "active"
	InvitationUsed    InvitationStatus = "used"
	InvitationExpired InvitationStatus = "expired"
	InvitationRevoked InvitationStatus = "revoked"
)

// DefaultInvitationTTL is the validity window of a new invitation.
const DefaultInvitationTTL = 7 * 24 * time.Hour

func (s InvitationStatus) IsValid() bool {
	switch s {
	case InvitationActive, InvitationUsed, InvitationExpired, InvitationRevoked:
		return true
	default:
		return false
	}
}

// Invitation is pre-bound to one roster record. Signature is the hex HMAC
// of the token issued for it; the token itself is never stored.
type Invitation struct {
	ID             string           `json:"id"`
	TeamID         string           `json:"team_id"`
	TargetRecordID string           `json:"target_record_id"`
	Role           RoleTag          `json:"role"`
	Status         InvitationStatus `json:"status"`
	Signature      string           `json:"-"`
	CreatedBy      string           `json:"created_by,omitempty"`
	Created        time.Time        `json:"created"`
	ExpiresAt      time.Time        `json:"expires_at"`
	UsedBy         string           `json:"used_by,omitempty"`
	UsedAt         *time.Time       `json:"used_at,omitempty"`
}

// invitationRecord is the persisted shape; it keeps Signature, which the
// API representation hides.
type invitationRecord struct {
	Invitation
	Signature string `json:"signature"`
}

func (i Invitation) ToRecord() any {
	return invitationRecord{Invitation: i, Signature: i.Signature}
}

func InvitationFromDocument(doc Document) (Invitation, error) {
	var rec invitationRecord
	if err := DecodeDocument(doc, &rec); err != nil {
		return Invitation{}, err
	}
	inv := rec.Invitation
	inv.Signature = rec.Signature
	return inv, nil
}

// IsConsumable reports whether the invitation can be used at now. The
// signature check is the caller's responsibility.
func (i Invitation) IsConsumable(now time.Time) bool {
	return i.Status == InvitationActive && now.Before(i.ExpiresAt)
}

func InvitationKey(id string) string {
	return "invite/" + id
}

type InvitationWithParticipant struct {
	Invitation
	Participant *Participant `json:"participant,omitempty"`
}
