package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"buget/internal/amqp"
	"buget/internal/core"
	"buget/internal/export/memory"
	"buget/internal/storage"
)

func newTestWorker(t *testing.T) (*ExportWorker, *storage.SQLiteRepository, *memory.Store) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "buget.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	audit := memory.New()
	return NewExportWorker(repo, audit), repo, audit
}

func seedTransaction(t *testing.T, repo *storage.SQLiteRepository) core.Transaction {
	t.Helper()
	ctx := context.Background()
	userID, err := repo.UpsertUser(ctx, "worker-user", "", "", "")
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	created, err := repo.CreateTransaction(ctx, core.Transaction{
		Title:  "Rent",
		Amount: core.Money{Cents: 120000},
		Type:   core.Expense,
		Date:   time.Now().UTC(),
		UserID: userID,
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return created
}

func TestHandleEventReadsCommittedState(t *testing.T) {
	w, repo, audit := newTestWorker(t)
	ctx := context.Background()
	tx := seedTransaction(t, repo)

	// The snapshot is stale on purpose; the audit row must reflect storage.
	err := w.HandleEvent(ctx, &amqp.TransactionEvent{
		ID:          tx.ID,
		Action:      amqp.ActionCreated,
		Title:       "old title",
		AmountCents: 1,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}

	rows := audit.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected one audit row, got %d", len(rows))
	}
	row := rows[0]
	if row.Title != "Rent" || row.AmountCents != 120000 || row.Type != "EXPENSE" {
		t.Errorf("audit row should use stored state: %+v", row)
	}
	if row.Category != core.UncategorizedLabel {
		t.Errorf("category = %q, want %q", row.Category, core.UncategorizedLabel)
	}
}

func TestHandleEventDeletedUsesSnapshot(t *testing.T) {
	w, _, audit := newTestWorker(t)
	ctx := context.Background()

	err := w.HandleEvent(ctx, &amqp.TransactionEvent{
		ID:         42,
		Action:     amqp.ActionDeleted,
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}

	rows := audit.Rows()
	if len(rows) != 1 || rows[0].TransactionID != 42 || rows[0].Action != amqp.ActionDeleted {
		t.Fatalf("audit rows: %+v", rows)
	}
}

func TestHandleEventGoneTransactionFallsBack(t *testing.T) {
	w, _, audit := newTestWorker(t)
	ctx := context.Background()

	// Updated event for a row that no longer exists must still audit the
	// snapshot rather than fail the delivery forever.
	err := w.HandleEvent(ctx, &amqp.TransactionEvent{
		ID:          7,
		Action:      amqp.ActionUpdated,
		Title:       "vanished",
		AmountCents: 500,
		Type:        "EXPENSE",
		OccurredAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}

	rows := audit.Rows()
	if len(rows) != 1 || rows[0].Title != "vanished" || rows[0].AmountCents != 500 {
		t.Fatalf("audit rows: %+v", rows)
	}
}
