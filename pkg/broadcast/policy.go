package broadcast

import (
	"context"
	"sync"
)

// ScopeRule decides which subscribers may see an event.
type ScopeRule string

const (
	// RuleEveryone delivers to every subscriber.
	RuleEveryone ScopeRule = "everyone"
	// RuleHousehold delivers to subscribers in the emitter's household.
	RuleHousehold ScopeRule = "household"
	// RuleOwner delivers only to the emitting user.
	RuleOwner ScopeRule = "owner"
)

// Scope identifies who emitted an event or who is listening.
type Scope struct {
	UserID       string `json:"userId"`
	HouseholdKey string `json:"householdKey,omitempty"`
}

// Policy reports the visibility rule for an event category.
type Policy interface {
	ViewPolicy(ctx context.Context, category string) (ScopeRule, error)
}

// Visible reports whether a subscriber with scope viewer may receive an event
// emitted under scope emitter. Unknown rules deliver nothing.
func (r ScopeRule) Visible(emitter, viewer Scope) bool {
	switch r {
	case RuleEveryone:
		return true
	case RuleHousehold:
		if emitter.HouseholdKey != "" && emitter.HouseholdKey == viewer.HouseholdKey {
			return true
		}
		return emitter.UserID != "" && emitter.UserID == viewer.UserID
	case RuleOwner:
		return emitter.UserID != "" && emitter.UserID == viewer.UserID
	}
	return false
}

// StaticPolicy is a Policy backed by an in-memory table. It is safe for
// concurrent use and can be changed while running.
type StaticPolicy struct {
	mu       sync.RWMutex
	rules    map[string]ScopeRule
	fallback ScopeRule
}

// NewStaticPolicy creates a policy that answers fallback for categories
// missing from rules.
func NewStaticPolicy(fallback ScopeRule, rules map[string]ScopeRule) *StaticPolicy {
	p := &StaticPolicy{rules: make(map[string]ScopeRule, len(rules)), fallback: fallback}
	for k, v := range rules {
		p.rules[k] = v
	}
	return p
}

// Set changes the rule for a category.
func (p *StaticPolicy) Set(category string, rule ScopeRule) {
	p.mu.Lock()
	p.rules[category] = rule
	p.mu.Unlock()
}

func (p *StaticPolicy) ViewPolicy(_ context.Context, category string) (ScopeRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if r, ok := p.rules[category]; ok {
		return r, nil
	}
	return p.fallback, nil
}
