// Package audit persists one row per terminal request outcome. The log is an
// operator-facing record (what was asked, by whom, how it ended) and is pruned
// on a retention window; it plays no part in routing decisions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/frostr/iglood/internal/protocol"
)

// Entry is one recorded outcome.
type Entry struct {
	RequestID   string
	Caller      string
	Operation   protocol.Operation
	Kind        int
	Code        protocol.OutcomeCode
	Error       string
	ReceivedAt  time.Time
	CompletedAt time.Time
	LatencyMS   int64
}

// Log writes outcome rows to the outcome_log table.
type Log struct {
	db *sql.DB
}

func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

// Append records the terminal outcome for a request. Result payloads are not
// stored; they may carry plaintext from decrypt operations.
func (l *Log) Append(ctx context.Context, req protocol.Request, out protocol.Outcome, completedAt time.Time) error {
	latency := completedAt.Sub(req.ReceivedAt).Milliseconds()
	if latency < 0 {
		latency = 0
	}

	_, err := l.db.ExecContext(ctx, `
INSERT OR IGNORE INTO outcome_log(id, caller, operation, kind, code, error, received_at, completed_at, latency_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.Caller,
		string(req.Operation),
		req.Kind,
		string(out.Code),
		out.Error,
		req.ReceivedAt.UTC().Format(time.RFC3339Nano),
		completedAt.UTC().Format(time.RFC3339Nano),
		latency,
	)
	if err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit outcomes, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT id, caller, operation, kind, code, COALESCE(error, ''), received_at, completed_at, latency_ms
FROM outcome_log
ORDER BY completed_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                      Entry
			op                     string
			code                   string
			receivedAt, completedAt string
		)
		if err := rows.Scan(&e.RequestID, &e.Caller, &op, &e.Kind, &code, &e.Error, &receivedAt, &completedAt, &e.LatencyMS); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		e.Operation = protocol.Operation(op)
		e.Code = protocol.OutcomeCode(code)
		if e.ReceivedAt, err = time.Parse(time.RFC3339Nano, receivedAt); err != nil {
			return nil, fmt.Errorf("parse received_at: %w", err)
		}
		if e.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes outcomes completed before now-retention and returns the number
// of rows removed.
func (l *Log) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := l.db.ExecContext(ctx, `DELETE FROM outcome_log WHERE completed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune outcomes: %w", err)
	}
	return res.RowsAffected()
}
