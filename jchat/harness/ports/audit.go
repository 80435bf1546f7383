package harnessports

import (
	"context"
	"time"
)

// AuditRecord describes one tool invocation attempt. It never stores chat content.
type AuditRecord struct {
	SessionID string
	ToolName  string
	Arguments string // sanitized JSON
	Outcome   string // "ok" | "error"
	ErrorKind string
	Duration  time.Duration
	CreatedAt time.Time
}

// AuditSink records tool invocations.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
	Recent(ctx context.Context, limit int) ([]AuditRecord, error)
}
