// Package authz implements the gateway's per-resource authorization
// decision (spec §4.6, C6): default-deny evaluation of required scopes
// plus an optional custom predicate against an AuthContext.
//
// Grounded on the role/permission tables in the pack's MCP auth example
// (other_examples - MCPRolePermissions, HasPermission, CanUseTool), adapted
// from a fixed role→permission map to spec.md's arbitrary per-resource rule
// (requiredScopes + predicate) keyed by resource name, since the spec's
// authorization model is scope-based rather than role-based.
package authz

import (
	"sync"

	"github.com/streamspace/mcp-gateway/internal/gwerrors"
)

// AuthContext identifies the authenticated caller for a single request
// (spec.md §3). Created per request from a verified token; never stored.
type AuthContext struct {
	UserID    string
	SessionID string
	Scope     []string
}

// HasScope reports whether ctx carries scope.
func (c AuthContext) HasScope(scope string) bool {
	for _, s := range c.Scope {
		if s == scope {
			return true
		}
	}
	return false
}

// HasAllScopes reports whether ctx carries every scope in required.
// HasAllScopes(nil/empty) is true: an empty requirement is vacuously
// satisfied (spec.md §4.6).
func (c AuthContext) HasAllScopes(required []string) bool {
	for _, r := range required {
		if !c.HasScope(r) {
			return false
		}
	}
	return true
}

// HasAnyScope reports whether ctx carries at least one scope in the given
// set. HasAnyScope(nil/empty) is false: there is nothing to match
// (spec.md §4.6).
func (c AuthContext) HasAnyScope(scopes []string) bool {
	if len(scopes) == 0 {
		return false
	}
	for _, s := range scopes {
		if c.HasScope(s) {
			return true
		}
	}
	return false
}

// Predicate is a custom authorization check beyond scope membership
// (spec.md §3, AuthorizationRule.predicate).
type Predicate func(AuthContext) bool

// Rule is an AuthorizationRule (spec.md §3): the access policy for one
// resource, keyed uniquely by Resource.
type Rule struct {
	Resource       string
	RequiredScopes []string
	Predicate      Predicate
}

// Decision is the result of Verify.
type Decision struct {
	Authorized bool
	Reason     gwerrors.Kind
}

// Verifier evaluates (resource, AuthContext) pairs against registered
// rules. Safe for concurrent use.
type Verifier struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// New creates an empty Verifier.
func New() *Verifier {
	return &Verifier{rules: make(map[string]Rule)}
}

// AddRule inserts or replaces the rule for rule.Resource.
func (v *Verifier) AddRule(rule Rule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[rule.Resource] = rule
}

// RemoveRule deletes the rule for resource, if any.
func (v *Verifier) RemoveRule(resource string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.rules, resource)
}

// ClearRules removes every rule.
func (v *Verifier) ClearRules() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = make(map[string]Rule)
}

// GetRules returns a defensive copy of every registered rule.
func (v *Verifier) GetRules() []Rule {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Rule, 0, len(v.rules))
	for _, r := range v.rules {
		out = append(out, r)
	}
	return out
}

// Verify evaluates resource against ctx. Default-deny: a resource with no
// registered rule is always denied with NoRuleForResource. Otherwise
// requiredScopes must be a subset of ctx.Scope (MissingScopes on failure),
// then an attached predicate (if any) must return true (PredicateDenied on
// failure).
func (v *Verifier) Verify(resource string, ctx AuthContext) Decision {
	v.mu.RLock()
	rule, ok := v.rules[resource]
	v.mu.RUnlock()

	if !ok {
		return Decision{Authorized: false, Reason: gwerrors.NoRuleForResource}
	}

	if !ctx.HasAllScopes(rule.RequiredScopes) {
		return Decision{Authorized: false, Reason: gwerrors.MissingScopes}
	}

	if rule.Predicate != nil && !rule.Predicate(ctx) {
		return Decision{Authorized: false, Reason: gwerrors.PredicateDenied}
	}

	return Decision{Authorized: true}
}
