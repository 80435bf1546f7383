package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

// LibSQLAuditSink writes tool invocation records to the tool_invocations table.
type LibSQLAuditSink struct {
	db *sql.DB
}

func NewLibSQLAuditSink(db *sql.DB) *LibSQLAuditSink {
	return &LibSQLAuditSink{db: db}
}

// Record inserts one invocation record.
func (s *LibSQLAuditSink) Record(ctx context.Context, rec ports.AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	args := rec.Arguments
	if args == "" {
		args = "{}"
	}

	const query = `
		INSERT INTO tool_invocations (session_id, tool_name, arguments, outcome, error_kind, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.SessionID, rec.ToolName, args, rec.Outcome, rec.ErrorKind,
		rec.Duration.Milliseconds(), rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record tool invocation: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *LibSQLAuditSink) Recent(ctx context.Context, limit int) ([]ports.AuditRecord, error) {
	const query = `
		SELECT session_id, tool_name, arguments, outcome, error_kind, duration_ms, created_at
		FROM tool_invocations
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool invocations: %w", err)
	}
	defer rows.Close()

	var out []ports.AuditRecord
	for rows.Next() {
		var (
			rec        ports.AuditRecord
			durationMs int64
			createdMs  int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.ToolName, &rec.Arguments, &rec.Outcome, &rec.ErrorKind, &durationMs, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan tool invocation: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool invocations: %w", err)
	}
	return out, nil
}

var _ ports.AuditSink = (*LibSQLAuditSink)(nil)
