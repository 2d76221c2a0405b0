// Package commands builds the action table: which actions exist, the
// minimum level for each, and the handler that runs once authorized.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/pkg/phone"
	"github.com/rostergate/rostergate/services/identity"
	"github.com/rostergate/rostergate/services/intent"
	"github.com/rostergate/rostergate/services/invitations"
	"github.com/rostergate/rostergate/services/permission"
	"github.com/rostergate/rostergate/services/roster"
	"github.com/rostergate/rostergate/services/router"
)

// Engine executes actions whose business logic lives outside this
// service.
type Engine interface {
	Execute(ctx context.Context, action intent.CanonicalAction, ident identity.ResolvedIdentity, auth router.AuthorizationContext) (string, error)
}

type Deps struct {
	Roster      *roster.Service
	Invitations *invitations.Service
	Issuer      *invitations.Issuer
	Phone       *phone.Normalizer
	// Engine may be nil, in which case delegated actions answer that the
	// feature is unavailable.
	Engine Engine
}

// Build returns the frozen registry.
func Build(deps Deps) (*router.Registry, error) {
	h := &handlers{deps: deps}

	reg, err := router.NewRegistry(
		router.Action{Name: intent.ActionRegister, MinLevel: permission.Public, Aliases: []string{"start", "join", "link"}, Summary: "link your chat account to the team roster", Handler: h.register},
		router.Action{Name: intent.ActionHelp, MinLevel: permission.Public, Summary: "show what you can do here", Handler: h.help},
		router.Action{Name: intent.ActionUnknown, MinLevel: permission.Public, Handler: h.delegate},
		router.Action{Name: "myinfo", MinLevel: permission.Player, Aliases: []string{"me", "whoami"}, Summary: "show your roster entries", Handler: h.myInfo},
		router.Action{Name: "roster", MinLevel: permission.Player, Aliases: []string{"players", "list"}, Summary: "list the team", Handler: h.delegate},
		router.Action{Name: "availability", MinLevel: permission.Player, Aliases: []string{"avail"}, Summary: "set or check match availability", Handler: h.delegate},
		router.Action{Name: "matches", MinLevel: permission.Player, Aliases: []string{"fixtures", "next"}, Summary: "upcoming matches", Handler: h.delegate},
		router.Action{Name: "payments", MinLevel: permission.Player, Aliases: []string{"fees"}, Summary: "payment status", Handler: h.delegate},
		router.Action{Name: "addplayer", MinLevel: permission.Leadership, Summary: "add a player and create an invitation: /addplayer <name> [phone]", Handler: h.addParticipant(db.RolePlayer)},
		router.Action{Name: "invite", MinLevel: permission.Leadership, Summary: "create a new invitation link: /invite <record id>", Handler: h.invite},
		router.Action{Name: "pending", MinLevel: permission.Leadership, Summary: "records awaiting a link or a decision", Handler: h.pending},
		router.Action{Name: "approve", MinLevel: permission.Leadership, Summary: "approve a linked record: /approve <record id>", Handler: h.decide(true)},
		router.Action{Name: "reject", MinLevel: permission.Leadership, Summary: "reject a linked record: /reject <record id>", Handler: h.decide(false)},
		router.Action{Name: "addmember", MinLevel: permission.Admin, Summary: "add a leadership member: /addmember <name> [phone]", Handler: h.addParticipant(db.RoleMember)},
		router.Action{Name: "addadmin", MinLevel: permission.Admin, Summary: "add an administrator: /addadmin <name> [phone]", Handler: h.addParticipant(db.RoleAdmin)},
		router.Action{Name: "revoke", MinLevel: permission.Admin, Summary: "withdraw an invitation: /revoke <invite id>", Handler: h.revoke},
		router.Action{Name: "expire", MinLevel: permission.System, Summary: "expire stale invitations", Handler: h.expire},
	)
	if err != nil {
		return nil, err
	}

	h.registry = reg
	return reg, nil
}

type handlers struct {
	deps     Deps
	registry *router.Registry
}

func usage(text string) error {
	return &db.ValidationError{Message: "usage: " + text}
}

func (h *handlers) register(_ context.Context, req router.Request) (string, error) {
	ident := req.Identity
	switch {
	case ident.Found() && ident.IsNewBinding:
		names := make([]string, 0, len(ident.Records))
		for _, p := range ident.Records {
			names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Kind()))
		}
		return "Welcome! You are now linked to the team roster as " + strings.Join(names, " and ") +
			". A team leader will review your registration.", nil
	case ident.Found():
		return "You are already registered. Send /help to see what you can do.", nil
	case req.Action.Arg(0) != "":
		return "That invitation link is not valid any more. Please ask your team admin for a new one.", nil
	default:
		return "To register, open the invitation link your team admin sent you, or share your phone number with me in a private chat.", nil
	}
}

func (h *handlers) help(_ context.Context, req router.Request) (string, error) {
	var b strings.Builder
	b.WriteString("Here is what you can do here:\n")
	for _, a := range h.registry.Available(req.Auth.Level) {
		fmt.Fprintf(&b, "/%s - %s\n", a.Name, a.Summary)
	}
	b.WriteString("You can also just write to me in plain words.")
	return b.String(), nil
}

func (h *handlers) delegate(ctx context.Context, req router.Request) (string, error) {
	if h.deps.Engine == nil {
		if req.Action.IsUnknown() {
			return "Sorry, I didn't understand that. Send /help to see what I can do.", nil
		}
		return "This feature is not available yet.", nil
	}
	return h.deps.Engine.Execute(ctx, req.Action, req.Identity, req.Auth)
}

func (h *handlers) myInfo(_ context.Context, req router.Request) (string, error) {
	var b strings.Builder
	b.WriteString("Your roster entries:\n")
	for _, p := range req.Identity.Records {
		fmt.Fprintf(&b, "%s - %s, %s\n", p.Name, p.Role, p.Status)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// splitNameAndPhone treats a trailing argument that parses as a phone
// number as the contact phone.
func (h *handlers) splitNameAndPhone(args []string) (name string, contact string) {
	if len(args) > 1 && h.deps.Phone != nil {
		if _, err := h.deps.Phone.Canonical(args[len(args)-1]); err == nil {
			return strings.Join(args[:len(args)-1], " "), args[len(args)-1]
		}
	}
	return strings.Join(args, " "), ""
}

func (h *handlers) addParticipant(role db.RoleTag) router.Handler {
	return func(ctx context.Context, req router.Request) (string, error) {
		if len(req.Action.Args) == 0 {
			return "", usage("/" + req.Action.Name + " <name> [phone]")
		}

		name, contact := h.splitNameAndPhone(req.Action.Args)
		p, err := h.deps.Roster.Create(ctx, roster.NewParticipant{
			TeamID:       req.Auth.TeamID,
			Name:         name,
			Role:         role,
			ContactPhone: contact,
			CreatedBy:    req.Auth.ChatIdentity,
		})
		if err != nil {
			return "", err
		}

		issued, err := h.deps.Issuer.Issue(ctx, p, req.Auth.ChatIdentity)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("Added %s (record %s).\nSend them this invitation link, valid until %s:\n%s\nIf the link does not open the bot, they can send it: /start %s",
			p.Name, p.ID, issued.Invitation.ExpiresAt.Format("2 Jan 2006 15:04 MST"), issued.Link, issued.Token), nil
	}
}

func (h *handlers) invite(ctx context.Context, req router.Request) (string, error) {
	recordID := req.Action.Arg(0)
	if recordID == "" {
		return "", usage("/invite <record id>")
	}

	p, err := h.deps.Roster.Get(ctx, req.Auth.TeamID, recordID)
	if errors.Is(err, db.ErrNotFound) {
		return "No roster record with that id.", nil
	}
	if err != nil {
		return "", err
	}
	if p.IsBound() {
		return p.Name + " is already linked.", nil
	}

	issued, err := h.deps.Issuer.Issue(ctx, p, req.Auth.ChatIdentity)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("New invitation link for %s, valid until %s:\n%s\nIf the link does not open the bot, they can send it: /start %s",
		p.Name, issued.Invitation.ExpiresAt.Format("2 Jan 2006 15:04 MST"), issued.Link, issued.Token), nil
}

func (h *handlers) pending(ctx context.Context, req router.Request) (string, error) {
	waiting, err := h.deps.Roster.List(ctx, req.Auth.TeamID, roster.ListFilter{Status: db.ParticipantActive})
	if err != nil {
		return "", err
	}
	unlinked, err := h.deps.Roster.List(ctx, req.Auth.TeamID, roster.ListFilter{Status: db.ParticipantPending})
	if err != nil {
		return "", err
	}

	if len(waiting) == 0 && len(unlinked) == 0 {
		return "Nothing is waiting.", nil
	}

	var b strings.Builder
	if len(waiting) > 0 {
		b.WriteString("Awaiting approval:\n")
		for _, p := range waiting {
			fmt.Fprintf(&b, "%s - %s (%s)\n", p.ID, p.Name, p.Role)
		}
	}
	if len(unlinked) > 0 {
		b.WriteString("Not linked yet:\n")
		for _, p := range unlinked {
			fmt.Fprintf(&b, "%s - %s (%s)\n", p.ID, p.Name, p.Role)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *handlers) decide(approve bool) router.Handler {
	return func(ctx context.Context, req router.Request) (string, error) {
		recordID := req.Action.Arg(0)
		if recordID == "" {
			return "", usage("/" + req.Action.Name + " <record id>")
		}

		var (
			p   db.Participant
			err error
		)
		if approve {
			p, err = h.deps.Roster.Approve(ctx, req.Auth.TeamID, recordID, req.Auth.ChatIdentity)
		} else {
			p, err = h.deps.Roster.Reject(ctx, req.Auth.TeamID, recordID, req.Auth.ChatIdentity)
		}

		switch {
		case errors.Is(err, db.ErrNotFound):
			return "No roster record with that id.", nil
		case errors.Is(err, db.ErrInvalidOperation):
			return "Only linked records that are waiting for a decision can be approved or rejected.", nil
		case err != nil:
			return "", err
		}

		return fmt.Sprintf("%s is now %s.", p.Name, p.Status), nil
	}
}

func (h *handlers) revoke(ctx context.Context, req router.Request) (string, error) {
	inviteID := req.Action.Arg(0)
	if inviteID == "" {
		return "", usage("/revoke <invite id>")
	}

	err := h.deps.Invitations.Revoke(ctx, req.Auth.TeamID, inviteID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return "No invitation with that id.", nil
	case errors.Is(err, db.ErrInvalidOperation):
		return "That invitation was already used or has expired.", nil
	case err != nil:
		return "", err
	}
	return "Invitation revoked.", nil
}

func (h *handlers) expire(ctx context.Context, _ router.Request) (string, error) {
	n, err := h.deps.Invitations.ExpireStale(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d invitation(s) expired.", n), nil
}
