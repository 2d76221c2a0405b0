package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/pkg/retry"
	"github.com/rostergate/rostergate/services/identity"
	"github.com/rostergate/rostergate/services/intent"
	"github.com/rostergate/rostergate/services/permission"
	log "github.com/sirupsen/logrus"
)

// State is a step of message processing. Guidance and Denied are terminal
// without dispatch.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateNormalized State = "NORMALIZED"
	StateIdentified State = "IDENTIFIED"
	StateAuthorized State = "AUTHORIZED"
	StateDispatched State = "DISPATCHED"
	StateGuidance   State = "GUIDANCE"
	StateDenied     State = "DENIED"
)

// Message is one inbound chat message, already mapped to a team and a
// conversation class by the transport.
type Message struct {
	ID                string
	TeamID            string
	ChatIdentity      string
	ConversationClass permission.ConversationClass
	Text              string
	// Structured is true when Text starts with the command marker.
	Structured bool
	// Phone is set when the sender shared a contact card.
	Phone       string
	DisplayName string
}

type Response struct {
	State  State
	Action string
	Text   string
	Level  permission.Level
	// RequestContact asks the transport to offer a phone sharing button.
	RequestContact bool
	NewBinding     bool
}

type Normalizer interface {
	Normalize(ctx context.Context, text string, structured bool, cctx intent.ClassifyContext) (intent.CanonicalAction, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, req identity.ResolveRequest) (identity.ResolvedIdentity, error)
}

type PermissionResolver interface {
	ResolveLevel(ctx context.Context, chatIdentity string, teamID string, class permission.ConversationClass) (permission.Level, error)
}

type Config struct {
	// DispatchTimeout bounds a handler once dispatched. The handler runs
	// detached from the caller's cancellation.
	DispatchTimeout time.Duration
	Retry           retry.Policy
}

type Router struct {
	registry    *Registry
	normalizer  Normalizer
	identities  IdentityResolver
	permissions PermissionResolver
	messages    *messages
	config      Config
}

func NewRouter(registry *Registry, normalizer Normalizer, identities IdentityResolver, permissions PermissionResolver, config Config) (*Router, error) {
	msgs, err := loadMessages()
	if err != nil {
		return nil, fmt.Errorf("load router templates: %w", err)
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = 30 * time.Second
	}
	if config.Retry.MaxTries == 0 {
		config.Retry = retry.Once(nil)
	}
	return &Router{
		registry:    registry,
		normalizer:  normalizer,
		identities:  identities,
		permissions: permissions,
		messages:    msgs,
		config:      config,
	}, nil
}

func (r *Router) Registry() *Registry {
	return r.registry
}

func (r *Router) policy(isTransient func(error) bool) retry.Policy {
	p := r.config.Retry
	p.IsTransient = isTransient
	return p
}

// temporary is implemented by downstream clients whose failures may clear
// up on their own.
type temporary interface {
	Temporary() bool
}

func isTransient(err error) bool {
	if db.IsTransient(err) || intent.IsTransient(err) {
		return true
	}
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}

// Handle runs one message through the admission pipeline. It always
// returns a response; internal failures become DENIED or a retry notice.
func (r *Router) Handle(ctx context.Context, msg Message) (res Response) {
	logger := log.WithFields(log.Fields{
		"context": "router",
		"team":    msg.TeamID,
		"message": msg.ID,
		"class":   msg.ConversationClass,
	})

	defer func() {
		if rec := recover(); rec != nil {
			logger.WithField("panic", rec).Error("message handling panicked")
			res = r.deny(permission.Public, "")
		}
		logger.WithFields(log.Fields{
			"state":  res.State,
			"action": res.Action,
			"level":  res.Level,
		}).Info("message routed")
	}()

	// RECEIVED
	if msg.TeamID == "" || msg.ChatIdentity == "" || !msg.ConversationClass.IsValid() {
		return r.deny(permission.Public, "")
	}

	if err := ctx.Err(); err != nil {
		return r.deny(permission.Public, "")
	}

	// NORMALIZED
	cctx := intent.ClassifyContext{TeamID: msg.TeamID, ConversationClass: string(msg.ConversationClass)}
	action, err := retry.Do(ctx, r.policy(intent.IsTransient), "classify", func(ctx context.Context) (intent.CanonicalAction, error) {
		return r.normalizer.Normalize(ctx, msg.Text, msg.Structured, cctx)
	})
	if err != nil {
		logger.WithError(err).Warn("intent normalization failed")
		return r.tryAgain("")
	}

	spec, ok := r.registry.Lookup(action.Name)
	if !ok {
		action.Name = intent.ActionUnknown
		spec, _ = r.registry.Lookup(intent.ActionUnknown)
	}
	registering := spec.Name == intent.ActionRegister

	// IDENTIFIED
	resolveReq := identity.ResolveRequest{
		ChatIdentity: msg.ChatIdentity,
		TeamID:       msg.TeamID,
		Phone:        msg.Phone,
	}
	if registering {
		resolveReq.Token = action.Arg(0)
	}

	ident, err := retry.Do(ctx, r.policy(isTransient), "resolve identity", func(ctx context.Context) (identity.ResolvedIdentity, error) {
		return r.identities.Resolve(ctx, resolveReq)
	})
	switch {
	case errors.Is(err, identity.ErrAmbiguousMatch):
		logger.Info("ambiguous phone match")
		return Response{
			State:  StateGuidance,
			Action: spec.Name,
			Text:   r.messages.render(tmplAmbiguous, templateData{DisplayName: msg.DisplayName}),
		}
	case err != nil && isTransient(err):
		logger.WithError(err).Warn("identity resolution unavailable")
		return r.tryAgain(spec.Name)
	case err != nil:
		logger.WithError(err).Error("identity resolution failed")
		return r.deny(permission.Public, spec.Name)
	}

	if !ident.Found() && !registering {
		return Response{
			State:          StateGuidance,
			Action:         spec.Name,
			Text:           r.messages.guidance(msg.ConversationClass, templateData{DisplayName: msg.DisplayName}),
			RequestContact: msg.ConversationClass == permission.Direct,
		}
	}

	// AUTHORIZED
	level := permission.Public
	if ident.Found() {
		level, err = retry.Do(ctx, r.policy(db.IsTransient), "resolve level", func(ctx context.Context) (permission.Level, error) {
			return r.permissions.ResolveLevel(ctx, msg.ChatIdentity, msg.TeamID, msg.ConversationClass)
		})
		switch {
		case err != nil && isTransient(err):
			logger.WithError(err).Warn("permission resolution unavailable")
			return r.tryAgain(spec.Name)
		case err != nil:
			logger.WithError(err).Error("permission resolution failed")
			return r.deny(permission.Public, spec.Name)
		}
	}

	auth := newAuthorizationContext(msg.TeamID, msg.ChatIdentity, msg.ConversationClass, level)
	if err := permission.Require(auth.Level, spec.MinLevel); err != nil {
		logger.WithError(err).WithField("action", spec.Name).Info("action denied")
		return Response{
			State:  StateDenied,
			Action: spec.Name,
			Level:  level,
			Text: r.messages.denied(msg.ConversationClass, templateData{
				DisplayName: msg.DisplayName,
				Action:      spec.Name,
				Required:    spec.MinLevel,
			}),
		}
	}

	if err := ctx.Err(); err != nil {
		return r.deny(level, spec.Name)
	}

	// DISPATCHED
	return r.dispatch(ctx, spec, Request{
		Action:      action,
		Auth:        auth,
		Identity:    ident,
		DisplayName: msg.DisplayName,
	}, logger)
}

func (r *Router) dispatch(ctx context.Context, spec Action, req Request, logger *log.Entry) Response {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.DispatchTimeout)
	defer cancel()

	res := Response{
		State:          StateDispatched,
		Action:         spec.Name,
		Level:          req.Auth.Level,
		NewBinding:     req.Identity.IsNewBinding,
		RequestContact: spec.Name == intent.ActionRegister && !req.Identity.Found() && req.Auth.ConversationClass == permission.Direct,
	}

	text, err := spec.Handler(dctx, req)
	if err != nil {
		logger.WithError(err).WithField("action", spec.Name).Error("action handler failed")
		var validationErr *db.ValidationError
		switch {
		case errors.As(err, &validationErr):
			res.Text = validationErr.Message
		case isTransient(err) || errors.Is(err, context.DeadlineExceeded):
			res.Text = r.messages.render(tmplTryAgain, templateData{})
		default:
			res.Text = r.messages.render(tmplDeniedGeneric, templateData{})
		}
		return res
	}

	res.Text = text
	return res
}

func (r *Router) deny(level permission.Level, action string) Response {
	return Response{
		State:  StateDenied,
		Action: action,
		Level:  level,
		Text:   r.messages.render(tmplDeniedGeneric, templateData{}),
	}
}

func (r *Router) tryAgain(action string) Response {
	return Response{
		State:  StateGuidance,
		Action: action,
		Text:   r.messages.render(tmplTryAgain, templateData{}),
	}
}
