package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/quillpress/quillpress/internal/core"
)

// Scopes protected out of the box.
const (
	ScopeLogin         = "login"
	ScopePasswordReset = "password_reset"
	ScopeSignup        = "signup"
	ScopeVerifyEmail   = "verify_email"
)

// DefaultPolicies are conservative limits for auth-sensitive operations.
var DefaultPolicies = map[string]core.RateLimitPolicy{
	ScopeLogin:         {Scope: ScopeLogin, Limit: 5, Window: time.Minute, Block: 5 * time.Minute},
	ScopePasswordReset: {Scope: ScopePasswordReset, Limit: 3, Window: 15 * time.Minute, Block: time.Hour},
	ScopeSignup:        {Scope: ScopeSignup, Limit: 10, Window: time.Hour, Block: time.Hour},
	ScopeVerifyEmail:   {Scope: ScopeVerifyEmail, Limit: 5, Window: 10 * time.Minute, Block: 30 * time.Minute},
}

// AdminSignalPolicy guards the operator signal endpoint. It is applied by
// the server directly and is not served on /v1/ratelimit.
var AdminSignalPolicy = core.RateLimitPolicy{
	Scope:  "admin_signal",
	Limit:  5,
	Window: time.Minute,
	Block:  15 * time.Minute,
}

// Policies is a validated set of policies keyed by scope.
type Policies struct {
	byScope map[string]core.RateLimitPolicy
}

// PolicyOverride adjusts one scope. Zero fields keep the base value.
type PolicyOverride struct {
	Limit  int
	Window time.Duration
	Block  time.Duration
}

// NewPolicies merges overrides onto DefaultPolicies and validates the result.
// Unknown scopes in overrides define new policies and must be complete.
func NewPolicies(overrides map[string]PolicyOverride) (*Policies, error) {
	merged := make(map[string]core.RateLimitPolicy, len(DefaultPolicies)+len(overrides))
	for scope, policy := range DefaultPolicies {
		merged[scope] = policy
	}

	for scope, override := range overrides {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		policy := merged[scope]
		policy.Scope = scope
		if override.Limit != 0 {
			policy.Limit = override.Limit
		}
		if override.Window != 0 {
			policy.Window = override.Window
		}
		if override.Block != 0 {
			policy.Block = override.Block
		}
		merged[scope] = policy
	}

	for _, policy := range merged {
		if err := policy.Validate(); err != nil {
			return nil, err
		}
	}

	return &Policies{byScope: merged}, nil
}

// Get returns the policy for scope.
func (p *Policies) Get(scope string) (core.RateLimitPolicy, bool) {
	if p == nil {
		return core.RateLimitPolicy{}, false
	}
	policy, ok := p.byScope[strings.TrimSpace(scope)]
	return policy, ok
}

// All returns every policy sorted by scope.
func (p *Policies) All() []core.RateLimitPolicy {
	if p == nil {
		return nil
	}
	out := make([]core.RateLimitPolicy, 0, len(p.byScope))
	for _, policy := range p.byScope {
		out = append(out, policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}
