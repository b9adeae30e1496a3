// Package worker turns transaction lifecycle events into audit-log rows.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"buget/internal/amqp"
	"buget/internal/core"
	"buget/internal/export"
	"buget/internal/storage"
)

// ExportWorker consumes lifecycle events and appends one audit row per event.
type ExportWorker struct {
	storage *storage.SQLiteRepository
	audit   export.AuditAppender
}

func NewExportWorker(storage *storage.SQLiteRepository, audit export.AuditAppender) *ExportWorker {
	return &ExportWorker{
		storage: storage,
		audit:   audit,
	}
}

// HandleEvent processes one lifecycle event. Created and updated events are
// re-read from storage so the audit row reflects the committed state, not the
// snapshot that happened to ride on the message. A transaction deleted before
// the event was consumed falls back to the snapshot.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev *amqp.TransactionEvent) error {
	slog.InfoContext(ctx, "Processing transaction event",
		"id", ev.ID,
		"action", ev.Action)

	rec := export.AuditRecord{
		TransactionID: ev.ID,
		Action:        ev.Action,
		Title:         ev.Title,
		AmountCents:   ev.AmountCents,
		Type:          ev.Type,
		Category:      ev.Category,
		OccurredAt:    ev.OccurredAt,
	}

	if ev.Action != amqp.ActionDeleted {
		tx, err := w.storage.GetTransactionByID(ctx, ev.ID)
		switch {
		case err == nil:
			rec.Title = tx.Title
			rec.AmountCents = tx.Amount.Cents
			rec.Type = string(tx.Type)
			rec.Category = tx.CategoryName()
		case errors.Is(err, core.ErrNotFound):
			slog.WarnContext(ctx, "Transaction gone before audit, using event snapshot",
				"id", ev.ID)
		default:
			return fmt.Errorf("get transaction %d: %w", ev.ID, err)
		}
	}

	ref, err := w.audit.Append(ctx, rec)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}

	slog.InfoContext(ctx, "Audit record appended",
		"id", ev.ID,
		"action", ev.Action,
		"ref", ref)
	return nil
}
