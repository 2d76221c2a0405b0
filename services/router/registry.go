package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/rostergate/rostergate/services/identity"
	"github.com/rostergate/rostergate/services/intent"
	"github.com/rostergate/rostergate/services/permission"
)

// Request is what a handler receives once the router has authorized the
// action.
type Request struct {
	Action   intent.CanonicalAction
	Auth     AuthorizationContext
	Identity identity.ResolvedIdentity
	// DisplayName is the sender's chat name, used for greetings only.
	DisplayName string
}

type Handler func(ctx context.Context, req Request) (string, error)

type Action struct {
	Name     string
	MinLevel permission.Level
	Summary  string
	Aliases  []string
	Handler  Handler
}

// Registry is the fixed table of actions. It is built once at startup and
// has no methods that modify it.
type Registry struct {
	actions map[string]Action
	names   map[string]string
	order   []string
}

// NewRegistry validates and freezes the action table. It must contain the
// registration, help and unknown actions.
func NewRegistry(actions ...Action) (*Registry, error) {
	r := &Registry{
		actions: make(map[string]Action, len(actions)),
		names:   make(map[string]string),
	}

	for _, a := range actions {
		if a.Name == "" {
			return nil, fmt.Errorf("action without a name")
		}
		if a.Handler == nil {
			return nil, fmt.Errorf("action %s has no handler", a.Name)
		}
		if _, ok := r.actions[a.Name]; ok {
			return nil, fmt.Errorf("action %s registered twice", a.Name)
		}

		a.Aliases = append([]string(nil), a.Aliases...)
		r.actions[a.Name] = a
		r.order = append(r.order, a.Name)

		for _, name := range append([]string{a.Name}, a.Aliases...) {
			if other, ok := r.names[name]; ok {
				return nil, fmt.Errorf("name %s used by both %s and %s", name, other, a.Name)
			}
			r.names[name] = a.Name
		}
	}

	for _, required := range []string{intent.ActionRegister, intent.ActionHelp, intent.ActionUnknown} {
		if _, ok := r.actions[required]; !ok {
			return nil, fmt.Errorf("action %s is required", required)
		}
	}

	if r.actions[intent.ActionRegister].MinLevel != permission.Public {
		return nil, fmt.Errorf("action %s must be public", intent.ActionRegister)
	}

	sort.Strings(r.order)
	return r, nil
}

func (r *Registry) Lookup(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Canonical resolves a command name or alias.
func (r *Registry) Canonical(name string) (string, bool) {
	canonical, ok := r.names[name]
	return canonical, ok
}

// Available lists the actions usable at level, sorted by name. The
// unknown action is left out.
func (r *Registry) Available(level permission.Level) []Action {
	res := make([]Action, 0, len(r.order))
	for _, name := range r.order {
		a := r.actions[name]
		if a.Name == intent.ActionUnknown || !permission.Allows(level, a.MinLevel) {
			continue
		}
		res = append(res, a)
	}
	return res
}
