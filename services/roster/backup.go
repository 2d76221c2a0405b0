package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rostergate/rostergate/db"
)

const BackupVersion = 1

type BackupMeta struct {
	Version  int       `json:"version"`
	TeamID   string    `json:"team_id"`
	Exported time.Time `json:"exported"`
}

type BackupParticipant struct {
	Name         string     `json:"name"`
	Role         db.RoleTag `json:"role"`
	ContactPhone string     `json:"contact_phone,omitempty"`
}

// BackupFormat is a portable roster. Chat links are not part of it: a
// restored record starts PENDING and must be linked with a new
// invitation.
type BackupFormat struct {
	Meta         BackupMeta          `json:"meta"`
	Participants []BackupParticipant `json:"participants"`
}

// GetBackup exports every record of a team that was not rejected.
func GetBackup(ctx context.Context, s *Service, teamID string) (BackupFormat, error) {
	list, err := s.List(ctx, teamID, ListFilter{})
	if err != nil {
		return BackupFormat{}, err
	}

	backup := BackupFormat{
		Meta: BackupMeta{
			Version:  BackupVersion,
			TeamID:   teamID,
			Exported: s.now().UTC(),
		},
		Participants: make([]BackupParticipant, 0, len(list)),
	}
	for _, p := range list {
		if p.Status == db.ParticipantRejected {
			continue
		}
		backup.Participants = append(backup.Participants, BackupParticipant{
			Name:         p.Name,
			Role:         p.Role,
			ContactPhone: p.ContactPhone,
		})
	}
	return backup, nil
}

func (b *BackupFormat) Marshal() (string, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *BackupFormat) Unmarshal(data string) error {
	return json.Unmarshal([]byte(data), b)
}

func (b *BackupFormat) Verify() error {
	if b.Meta.Version != BackupVersion {
		return fmt.Errorf("unsupported backup version %d", b.Meta.Version)
	}
	if strings.TrimSpace(b.Meta.TeamID) == "" {
		return fmt.Errorf("backup has no team id")
	}

	seen := make(map[string]bool)
	for i, p := range b.Participants {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("participant %d has no name", i)
		}
		if !p.Role.IsValid() {
			return fmt.Errorf("participant %d (%s) has invalid role %q", i, p.Name, p.Role)
		}
		key := string(p.Role) + "|" + strings.ToLower(p.Name) + "|" + p.ContactPhone
		if seen[key] {
			return fmt.Errorf("participant %s is listed twice", p.Name)
		}
		seen[key] = true
	}
	return nil
}

// Restore creates a PENDING record for every participant in the backup.
// teamID overrides the team recorded in the backup when set.
func (b *BackupFormat) Restore(ctx context.Context, s *Service, teamID string, actor string) ([]db.Participant, error) {
	if teamID == "" {
		teamID = b.Meta.TeamID
	}

	created := make([]db.Participant, 0, len(b.Participants))
	for _, entry := range b.Participants {
		p, err := s.Create(ctx, NewParticipant{
			TeamID:       teamID,
			Name:         entry.Name,
			Role:         entry.Role,
			ContactPhone: entry.ContactPhone,
			CreatedBy:    actor,
		})
		if err != nil {
			return created, fmt.Errorf("restore %s: %w", entry.Name, err)
		}
		created = append(created, p)
	}
	return created, nil
}
