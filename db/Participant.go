package db

import (
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantActive   ParticipantStatus = "active"
	ParticipantApproved ParticipantStatus = "approved"
	ParticipantRejected ParticipantStatus = "rejected"
)

func (s ParticipantStatus) IsValid() bool {
	switch s {
	case ParticipantPending, ParticipantActive, ParticipantApproved, ParticipantRejected:
		return true
	default:
		return false
	}
}

// ParticipantKind separates the two roster record variants.
type ParticipantKind string

const (
	KindPlayer ParticipantKind = "player"
	KindMember ParticipantKind = "member"
)

// RoleTag distinguishes players from members and, for members, marks the
// administrative sub-role.
type RoleTag string

const (
	RolePlayer RoleTag = "player"
	RoleMember RoleTag = "member"
	RoleAdmin  RoleTag = "admin"
)

func (r RoleTag) IsValid() bool {
	switch r {
	case RolePlayer, RoleMember, RoleAdmin:
		return true
	default:
		return false
	}
}

func (r RoleTag) Kind() ParticipantKind {
	if r == RolePlayer {
		return KindPlayer
	}
	return KindMember
}

// Participant is a roster record: a Player or a Member of one team.
// ChatIdentity is empty until the record is linked to a chat user.
type Participant struct {
	ID           string            `json:"id"`
	TeamID       string            `json:"team_id"`
	Name         string            `json:"name"`
	Role         RoleTag           `json:"role"`
	Status       ParticipantStatus `json:"status"`
	ChatIdentity string            `json:"chat_identity,omitempty"`
	ContactPhone string            `json:"contact_phone,omitempty"`
	InviteID     string            `json:"invite_id,omitempty"`
	CreatedBy    string            `json:"created_by,omitempty"`
	Created      time.Time         `json:"created"`
	Updated      time.Time         `json:"updated"`
	LinkedAt     *time.Time        `json:"linked_at,omitempty"`
}

func (p Participant) Kind() ParticipantKind {
	return p.Role.Kind()
}

func (p Participant) IsBound() bool {
	return p.ChatIdentity != ""
}

// IsEngaged reports whether the record counts toward permissions.
func (p Participant) IsEngaged() bool {
	return p.Status == ParticipantActive || p.Status == ParticipantApproved
}

func ValidateParticipant(p Participant) error {
	if strings.TrimSpace(p.TeamID) == "" {
		return &ValidationError{Message: "team id cannot be empty"}
	}
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Message: "participant name cannot be empty"}
	}
	if !p.Role.IsValid() {
		return &ValidationError{Message: "participant role is invalid"}
	}
	if !p.Status.IsValid() {
		return &ValidationError{Message: "participant status is invalid"}
	}
	return nil
}

func ParticipantKey(id string) string {
	return "participant/" + id
}

// NewID returns a new sortable, globally unique identifier.
func NewID() string {
	return ksuid.New().String()
}

// Binding claims one record kind for a chat identity within a team. It
// keeps concurrent links from giving one identity two records of a kind.
type Binding struct {
	ChatIdentity string          `json:"chat_identity"`
	Kind         ParticipantKind `json:"kind"`
	RecordID     string          `json:"record_id"`
}

func BindingKey(chatIdentity string, kind ParticipantKind) string {
	return "binding/" + string(kind) + "/" + chatIdentity
}
