package service

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"buget/internal/amqp"
	"buget/internal/core"
	"buget/internal/storage"
)

type recordingPublisher struct {
	events []amqp.TransactionEvent
}

func (p *recordingPublisher) PublishTransactionEvent(_ context.Context, ev amqp.TransactionEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func newTestService(t *testing.T) (*TransactionService, *storage.SQLiteRepository, *recordingPublisher) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "buget.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	pub := &recordingPublisher{}
	return NewTransactionService(repo, pub), repo, pub
}

func newUser(t *testing.T, repo *storage.SQLiteRepository, subject string) int64 {
	t.Helper()
	id, err := repo.UpsertUser(context.Background(), subject, "", "", "")
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return id
}

func catID(t *testing.T, repo *storage.SQLiteRepository, name string) string {
	t.Helper()
	c, err := repo.FindCategoryByName(context.Background(), name)
	if err != nil || c == nil {
		t.Fatalf("find category %s: %v", name, err)
	}
	return strconv.FormatInt(c.ID, 10)
}

func TestOperationsRequireIdentity(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.List(ctx, 0, core.TransactionFilter{}); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("List: got %v", err)
	}
	if _, err := svc.Chart(ctx, 0); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("Chart: got %v", err)
	}
	if _, err := svc.Create(ctx, 0, TransactionInput{}); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("Create: got %v", err)
	}
	if _, err := svc.Update(ctx, 0, 1, TransactionInput{}); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("Update: got %v", err)
	}
	if err := svc.Delete(ctx, 0, 1); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("Delete: got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	user := newUser(t, repo, "u-validate")

	valid := TransactionInput{Title: "Coffee", Amount: "3.50", Type: "EXPENSE"}

	cases := []struct {
		name   string
		mutate func(*TransactionInput)
		want   error
	}{
		{"zero amount", func(in *TransactionInput) { in.Amount = "0" }, core.ErrInvalidArgument},
		{"negative amount", func(in *TransactionInput) { in.Amount = "-5" }, core.ErrInvalidArgument},
		{"non-numeric amount", func(in *TransactionInput) { in.Amount = "abc" }, core.ErrInvalidArgument},
		{"missing amount", func(in *TransactionInput) { in.Amount = "" }, core.ErrInvalidArgument},
		{"missing title", func(in *TransactionInput) { in.Title = "  " }, core.ErrInvalidArgument},
		{"bad type", func(in *TransactionInput) { in.Type = "TRANSFER" }, core.ErrInvalidArgument},
		{"bad date", func(in *TransactionInput) { in.Date = "not-a-date" }, core.ErrInvalidArgument},
		{"non-numeric category", func(in *TransactionInput) { in.CategoryID = "food" }, core.ErrInvalidArgument},
		{"unknown category", func(in *TransactionInput) { in.CategoryID = "99999" }, core.ErrNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in := valid
			c.mutate(&in)
			if _, err := svc.Create(ctx, user, in); !errors.Is(err, c.want) {
				t.Errorf("got %v, want %v", err, c.want)
			}
		})
	}

	// Nothing was written by the failed creates.
	list, err := svc.List(ctx, user, core.TransactionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("failed creates must not write: %+v", list)
	}
}

func TestCreateDefaultsAndRoundTrip(t *testing.T) {
	svc, repo, pub := newTestService(t)
	ctx := context.Background()
	user := newUser(t, repo, "u-create")
	note := "monthly"

	before := time.Now().UTC()
	created, err := svc.Create(ctx, user, TransactionInput{
		Title:      "Internet",
		Amount:     "45.99",
		Type:       "EXPENSE",
		CategoryID: catID(t, repo, "Bills"),
		Note:       &note,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Amount.Cents != 4599 {
		t.Errorf("amount = %d cents, want 4599", created.Amount.Cents)
	}
	if created.Date.Before(before.Add(-time.Second)) {
		t.Errorf("date should default to now, got %v", created.Date)
	}
	if created.Category == nil || created.Category.Name != "Bills" {
		t.Errorf("resolved category = %+v", created.Category)
	}

	list, err := svc.List(ctx, user, core.TransactionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one transaction, got %d", len(list))
	}
	got := list[0]
	if got.Title != created.Title || got.Amount != created.Amount || got.Type != created.Type ||
		!got.Date.Equal(created.Date) || got.Note == nil || *got.Note != note {
		t.Errorf("round trip mismatch: %+v vs %+v", got, created)
	}

	if len(pub.events) != 1 || pub.events[0].Action != amqp.ActionCreated {
		t.Errorf("expected one created event, got %+v", pub.events)
	}
}

func TestListFilters(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	user := newUser(t, repo, "u-list")

	mustCreate(t, svc, user, TransactionInput{Title: "Groceries", Amount: "30", Type: "EXPENSE", CategoryID: catID(t, repo, "Groceries")})
	mustCreate(t, svc, user, TransactionInput{Title: "Gas bill", Amount: "20", Type: "EXPENSE"})

	got, err := svc.List(ctx, user, core.TransactionFilter{Query: "gAs"})
	if err != nil {
		t.Fatalf("list query: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Gas bill" {
		t.Fatalf("query filter: %+v", got)
	}

	got, err = svc.List(ctx, user, core.TransactionFilter{Category: "groceries"})
	if err != nil {
		t.Fatalf("list category: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Groceries" {
		t.Fatalf("category filter must match case-insensitively: %+v", got)
	}

	got, err = svc.List(ctx, user, core.TransactionFilter{Category: core.UncategorizedLabel})
	if err != nil {
		t.Fatalf("list uncategorized: %v", err)
	}
	if len(got) != 1 || got[0].Category != nil {
		t.Fatalf("uncategorized filter: %+v", got)
	}

	got, err = svc.List(ctx, user, core.TransactionFilter{Category: "Vacations"})
	if err != nil {
		t.Fatalf("list unknown category: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("unknown category must yield empty list, got %+v", got)
	}
}

func TestChartOrdering(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	user := newUser(t, repo, "u-chart")
	cat1 := catID(t, repo, "Groceries")
	cat2 := catID(t, repo, "Transport")

	mustCreate(t, svc, user, TransactionInput{Title: "A", Amount: "30", Type: "EXPENSE", CategoryID: cat1})
	mustCreate(t, svc, user, TransactionInput{Title: "B", Amount: "20", Type: "EXPENSE", CategoryID: cat1})
	mustCreate(t, svc, user, TransactionInput{Title: "C", Amount: "50", Type: "EXPENSE", CategoryID: cat2})
	mustCreate(t, svc, user, TransactionInput{Title: "D", Amount: "10", Type: "EXPENSE"})
	mustCreate(t, svc, user, TransactionInput{Title: "Salary", Amount: "5000", Type: "INCOME", CategoryID: catID(t, repo, "Salary")})

	chart, err := svc.Chart(ctx, user)
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if len(chart) != 3 {
		t.Fatalf("expected 3 groups, got %+v", chart)
	}
	if chart[0].Value.Cents != 5000 || chart[1].Value.Cents != 5000 {
		t.Errorf("tied groups should both sum 5000: %+v", chart)
	}
	if chart[2].Name != core.UncategorizedLabel || chart[2].Value.Cents != 1000 {
		t.Errorf("uncategorized must sort last: %+v", chart)
	}

	// Deterministic across repeated runs with the same input.
	again, err := svc.Chart(ctx, user)
	if err != nil {
		t.Fatalf("chart again: %v", err)
	}
	for i := range chart {
		if chart[i] != again[i] {
			t.Fatalf("chart order unstable: %+v vs %+v", chart, again)
		}
	}
}

func TestUpdateSemantics(t *testing.T) {
	svc, repo, pub := newTestService(t)
	ctx := context.Background()
	user := newUser(t, repo, "u-update")
	other := newUser(t, repo, "u-other")

	created := mustCreate(t, svc, user, TransactionInput{
		Title: "Bus pass", Amount: "45", Type: "EXPENSE", CategoryID: catID(t, repo, "Transport"),
	})

	// Another user's update is NotFound, not Forbidden.
	if _, err := svc.Update(ctx, other, created.ID, TransactionInput{Title: "x", Amount: "1", Type: "EXPENSE"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-user update: got %v, want ErrNotFound", err)
	}

	// Omitted categoryId clears the link.
	updated, err := svc.Update(ctx, user, created.ID, TransactionInput{
		Title: "Bus pass", Amount: "45", Type: "EXPENSE",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Category != nil {
		t.Errorf("category should be cleared, got %+v", updated.Category)
	}

	// A valid categoryId replaces the link.
	updated, err = svc.Update(ctx, user, created.ID, TransactionInput{
		Title: "Bus pass", Amount: "45", Type: "EXPENSE", CategoryID: catID(t, repo, "Bills"),
	})
	if err != nil {
		t.Fatalf("update with category: %v", err)
	}
	if updated.Category == nil || updated.Category.Name != "Bills" {
		t.Errorf("category should be Bills, got %+v", updated.Category)
	}

	// A numeric but unknown categoryId is NotFound.
	if _, err := svc.Update(ctx, user, created.ID, TransactionInput{
		Title: "Bus pass", Amount: "45", Type: "EXPENSE", CategoryID: "99999",
	}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown category on update: got %v, want ErrNotFound", err)
	}

	var actions []string
	for _, ev := range pub.events {
		actions = append(actions, ev.Action)
	}
	want := []string{amqp.ActionCreated, amqp.ActionUpdated, amqp.ActionUpdated}
	if len(actions) != len(want) {
		t.Fatalf("events = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("events = %v, want %v", actions, want)
		}
	}
}

func TestDeleteSemantics(t *testing.T) {
	svc, repo, pub := newTestService(t)
	ctx := context.Background()
	user := newUser(t, repo, "u-delete")
	other := newUser(t, repo, "u-intruder")

	created := mustCreate(t, svc, user, TransactionInput{Title: "Coffee", Amount: "3.5", Type: "EXPENSE"})

	if err := svc.Delete(ctx, other, created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-user delete: got %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, user, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, user, created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}

	last := pub.events[len(pub.events)-1]
	if last.Action != amqp.ActionDeleted || last.ID != created.ID {
		t.Errorf("expected deleted event for %d, got %+v", created.ID, last)
	}
}

func mustCreate(t *testing.T, svc *TransactionService, userID int64, in TransactionInput) core.Transaction {
	t.Helper()
	created, err := svc.Create(context.Background(), userID, in)
	if err != nil {
		t.Fatalf("create %q: %v", in.Title, err)
	}
	return created
}

