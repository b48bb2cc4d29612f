// Package gate answers whether an actor may perform an action in a module.
//
// Authentication happens elsewhere; the gate only sees the actor's roles as
// reported by the caller.
package gate

import (
	"context"
	"fmt"
	"path"

	"github.com/roach88/attend/internal/attendance"
)

// AllowAll permits everything. It is the gate used when no permission rules
// are configured.
type AllowAll struct{}

func (AllowAll) IsAllowed(context.Context, attendance.Actor, attendance.Module, string) bool {
	return true
}

// DenyAll refuses everything.
type DenyAll struct{}

func (DenyAll) IsAllowed(context.Context, attendance.Actor, attendance.Module, string) bool {
	return false
}

// Rule grants an action to a set of roles.
//
// Module is a module name or "*". Action is a path.Match pattern such as
// "transition:*" or "transition:completed". Roles lists the roles that are
// allowed; "*" allows any actor.
type Rule struct {
	Module string   `json:"module" yaml:"module"`
	Action string   `json:"action" yaml:"action"`
	Roles  []string `json:"roles,omitempty" yaml:"roles"`
}

// Policy evaluates rules in order. The first rule whose module and action
// match decides; when none match, Default applies.
type Policy struct {
	rules []Rule
	dflt  bool
}

// NewPolicy validates the rule patterns and builds a policy.
func NewPolicy(rules []Rule, defaultAllow bool) (*Policy, error) {
	for i, r := range rules {
		if r.Action == "" {
			return nil, fmt.Errorf("rule %d: action pattern is required", i)
		}
		if _, err := path.Match(r.Action, ""); err != nil {
			return nil, fmt.Errorf("rule %d: bad action pattern %q: %w", i, r.Action, err)
		}
		if r.Module != "" && r.Module != "*" {
			if _, err := attendance.ParseModule(r.Module); err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
		}
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Policy{rules: cp, dflt: defaultAllow}, nil
}

func (p *Policy) IsAllowed(_ context.Context, actor attendance.Actor, module attendance.Module, action string) bool {
	for _, r := range p.rules {
		if !r.matches(module, action) {
			continue
		}
		for _, role := range r.Roles {
			if role == "*" || actor.HasRole(role) {
				return true
			}
		}
		return false
	}
	return p.dflt
}

func (r Rule) matches(module attendance.Module, action string) bool {
	if r.Module != "" && r.Module != "*" && r.Module != string(module) {
		return false
	}
	ok, _ := path.Match(r.Action, action)
	return ok
}

// TransitionAction is the action name checked before moving a record to
// status to.
func TransitionAction(to attendance.Status) string {
	return "transition:" + string(to)
}

// AdmitAction is the action name checked before admitting a subject.
const AdmitAction = "admit"
