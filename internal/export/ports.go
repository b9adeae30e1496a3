// Package export defines the outbound audit-log port fed by the event worker.
package export

import (
	"context"
	"time"
)

// AuditRecord is one row of the append-only mutation audit log.
type AuditRecord struct {
	TransactionID int64
	Action        string
	Title         string
	AmountCents   int64
	Type          string
	Category      string
	OccurredAt    time.Time
}

// AuditAppender appends a record to the audit log and returns a reference to
// where it landed.
type AuditAppender interface {
	Append(ctx context.Context, rec AuditRecord) (ref string, err error)
}
