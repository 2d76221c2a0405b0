package router

import (
	"github.com/rostergate/rostergate/services/permission"
)

// AuthorizationContextVersion changes whenever fields are added to or
// removed from AuthorizationContext.
const AuthorizationContextVersion = 1

// AuthorizationContext is built once per message by the router and passed
// by value. It is never modified after construction.
type AuthorizationContext struct {
	Version           int                          `json:"version"`
	TeamID            string                       `json:"team_id"`
	ChatIdentity      string                       `json:"chat_identity"`
	ConversationClass permission.ConversationClass `json:"conversation_class"`
	Level             permission.Level             `json:"resolved_level"`
}

func newAuthorizationContext(teamID string, chatIdentity string, class permission.ConversationClass, level permission.Level) AuthorizationContext {
	return AuthorizationContext{
		Version:           AuthorizationContextVersion,
		TeamID:            teamID,
		ChatIdentity:      chatIdentity,
		ConversationClass: class,
		Level:             level,
	}
}

func (a AuthorizationContext) Allows(required permission.Level) bool {
	return permission.Allows(a.Level, required)
}
