package permission

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/frostr/iglood/internal/protocol"
)

// Rule grants or refuses one (caller, operation, kind) tuple. Kind is
// protocol.KindNone for wildcard rules that cover every kind of an operation.
type Rule struct {
	Caller    string
	Operation protocol.Operation
	Kind      int
	Allow     bool
	CreatedAt time.Time
}

// RuleStore reads and writes permission rules in sqlite. The router only ever
// reads; writes arrive from the authorization collaborator persisting a user
// decision.
type RuleStore struct {
	db *sql.DB
}

func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// Put upserts a rule. A repeated decision for the same tuple replaces the old
// answer.
func (s *RuleStore) Put(ctx context.Context, r Rule) error {
	if r.Caller == "" {
		return fmt.Errorf("rule caller is empty")
	}
	if r.Operation == "" {
		return fmt.Errorf("rule operation is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	allow := 0
	if r.Allow {
		allow = 1
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO permission_rules(caller, operation, kind, allow, created_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(caller, operation, kind) DO UPDATE SET
  allow = excluded.allow,
  created_at = excluded.created_at;
`, r.Caller, string(r.Operation), r.Kind, allow, now)
	if err != nil {
		return fmt.Errorf("upsert permission rule: %w", err)
	}
	return nil
}

// All returns every stored rule, oldest first.
func (s *RuleStore) All(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT caller, operation, kind, allow, created_at
FROM permission_rules
ORDER BY created_at ASC, caller ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("read permission rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var (
			r        Rule
			op       string
			allow    int
			createdS string
		)
		if err := rows.Scan(&r.Caller, &op, &r.Kind, &allow, &createdS); err != nil {
			return nil, fmt.Errorf("scan permission rule: %w", err)
		}
		r.Operation = protocol.Operation(op)
		r.Allow = allow != 0
		if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Snapshot loads all rules into an immutable lookup set.
func (s *RuleStore) Snapshot(ctx context.Context) (*RuleSet, error) {
	rules, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return NewRuleSet(rules), nil
}
