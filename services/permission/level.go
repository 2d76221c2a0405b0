package permission

import (
	"errors"
	"fmt"
	"strings"
)

var ErrPermissionDenied = errors.New("permission denied")

// Level is totally ordered: Public < Player < Leadership < Admin < System.
type Level int

const (
	Public Level = iota
	Player
	Leadership
	Admin
	System
)

var levelNames = []string{"PUBLIC", "PLAYER", "LEADERSHIP", "ADMIN", "SYSTEM"}

func (l Level) String() string {
	if l < Public || l > System {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(name, s) {
			return Level(i), nil
		}
	}
	return Public, fmt.Errorf("unknown permission level %q", s)
}

// Allows reports whether resolved satisfies required.
func Allows(resolved Level, required Level) bool {
	return resolved >= required
}

// Require is Allows as an error.
func Require(resolved Level, required Level) error {
	if Allows(resolved, required) {
		return nil
	}
	return fmt.Errorf("%w: %s required, have %s", ErrPermissionDenied, required, resolved)
}

type ConversationClass string

const (
	General        ConversationClass = "general"
	Administrative ConversationClass = "administrative"
	Direct         ConversationClass = "direct"
)

func (c ConversationClass) IsValid() bool {
	switch c {
	case General, Administrative, Direct:
		return true
	default:
		return false
	}
}
