// Package permission answers "may this caller run this operation" against
// user-granted rules.
//
// Lookup precedence is exact (caller, operation, kind) first, then the
// wildcard-kind rule for (caller, operation). No rule at either level is
// Undetermined, which is a distinct result from Denied: the router hands
// undetermined requests to the authorization collaborator instead of
// refusing them.
package permission

import (
	"context"
	"sync"

	"github.com/frostr/iglood/internal/protocol"
)

// Decision is the result of a permission check.
type Decision int

const (
	Undetermined Decision = iota
	Allowed
	Denied
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	}
	return "undetermined"
}

type ruleKey struct {
	caller    string
	operation protocol.Operation
	kind      int
}

// RuleSet is an immutable permission lookup table.
type RuleSet struct {
	rules map[ruleKey]bool
}

func NewRuleSet(rules []Rule) *RuleSet {
	m := make(map[ruleKey]bool, len(rules))
	for _, r := range rules {
		m[ruleKey{r.Caller, r.Operation, r.Kind}] = r.Allow
	}
	return &RuleSet{rules: m}
}

// Check resolves a tuple against the set. Pure and non-blocking.
func (rs *RuleSet) Check(caller string, op protocol.Operation, kind int) Decision {
	if allow, ok := rs.rules[ruleKey{caller, op, kind}]; ok {
		return toDecision(allow)
	}
	if kind != protocol.KindNone {
		if allow, ok := rs.rules[ruleKey{caller, op, protocol.KindNone}]; ok {
			return toDecision(allow)
		}
	}
	return Undetermined
}

// Len returns the number of rules in the set.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

func toDecision(allow bool) Decision {
	if allow {
		return Allowed
	}
	return Denied
}

// Engine holds the current rule snapshot and reloads it after the
// authorization collaborator persists a new decision.
type Engine struct {
	store *RuleStore

	mu  sync.RWMutex
	set *RuleSet
}

// NewEngine loads the initial snapshot from the store.
func NewEngine(ctx context.Context, store *RuleStore) (*Engine, error) {
	set, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{store: store, set: set}, nil
}

// Check resolves against the current snapshot without touching the database.
func (e *Engine) Check(caller string, op protocol.Operation, kind int) Decision {
	e.mu.RLock()
	set := e.set
	e.mu.RUnlock()
	return set.Check(caller, op, kind)
}

// Reload swaps in a fresh snapshot from the store.
func (e *Engine) Reload(ctx context.Context) error {
	set, err := e.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.set = set
	e.mu.Unlock()
	return nil
}
