// Package approval resolves permission checks that no stored rule answers.
// The deployed policy is static (deny or allow from config); an interactive
// front end would implement the same contract by asking the user. Either way
// the decision is persisted before it is reported, so the next identical
// request never consults the authorizer again.
package approval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frostr/iglood/internal/permission"
	"github.com/frostr/iglood/internal/protocol"
)

// Static answers every undetermined check the same way.
type Static struct {
	store  *permission.RuleStore
	allow  bool
	logger *slog.Logger
}

// NewStatic builds a policy from the config value ("deny" or "allow").
func NewStatic(mode string, store *permission.RuleStore, logger *slog.Logger) (*Static, error) {
	var allow bool
	switch mode {
	case "deny":
	case "allow":
		allow = true
	default:
		return nil, fmt.Errorf("unknown approval mode %q", mode)
	}
	return &Static{store: store, allow: allow, logger: logger}, nil
}

// Decide persists and reports the policy's answer for the request's tuple.
// Denials are persisted too: a refused tuple should not re-enter the
// authorizer on every retry.
func (s *Static) Decide(ctx context.Context, req protocol.Request) (bool, error) {
	rule := permission.Rule{
		Caller:    req.Caller,
		Operation: req.Operation,
		Kind:      req.Kind,
		Allow:     s.allow,
	}
	if err := s.store.Put(ctx, rule); err != nil {
		return false, fmt.Errorf("persist approval decision: %w", err)
	}

	s.logger.Info("undetermined permission resolved by policy",
		"caller", req.Caller,
		"operation", string(req.Operation),
		"kind", req.Kind,
		"allow", s.allow,
	)
	return s.allow, nil
}
