// Package service implements the query/aggregation and mutation cores on top
// of the SQLite repository, scoped throughout by the caller's resolved user
// id.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"buget/internal/amqp"
	"buget/internal/core"
	"buget/internal/storage"
)

// EventPublisher announces completed mutations. Publishing is best-effort: a
// broker failure never fails the request that already committed.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, ev amqp.TransactionEvent) error
}

type TransactionService struct {
	repo   *storage.SQLiteRepository
	events EventPublisher
	now    func() time.Time
}

func NewTransactionService(repo *storage.SQLiteRepository, events EventPublisher) *TransactionService {
	return &TransactionService{
		repo:   repo,
		events: events,
		now:    time.Now,
	}
}

// TransactionInput carries the raw mutation fields as submitted. Amount and
// CategoryID stay textual so the service can distinguish "absent" from
// "syntactically invalid".
type TransactionInput struct {
	Title      string
	Amount     string
	Type       string
	Date       string
	CategoryID string
	Note       *string
}

// Categories lists all categories; no identity required.
func (s *TransactionService) Categories(ctx context.Context) ([]core.Category, error) {
	return s.repo.ListCategories(ctx)
}

// List returns the user's transactions matching the filter facet, newest
// first. An unknown category name yields an empty list rather than an error.
func (s *TransactionService) List(ctx context.Context, userID int64, filter core.TransactionFilter) ([]core.Transaction, error) {
	if userID <= 0 {
		return nil, core.ErrUnauthenticated
	}

	params := storage.ListParams{UserID: userID, Query: strings.TrimSpace(filter.Query)}
	switch {
	case filter.All():
	case filter.Uncategorized():
		params.Uncategorized = true
	default:
		cat, err := s.repo.FindCategoryByName(ctx, filter.Category)
		if err != nil {
			return nil, err
		}
		if cat == nil {
			return []core.Transaction{}, nil
		}
		params.CategoryID = &cat.ID
	}

	list, err := s.repo.ListTransactions(ctx, params)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []core.Transaction{}
	}
	return list, nil
}

// Chart aggregates the user's expenses per category, largest total first.
func (s *TransactionService) Chart(ctx context.Context, userID int64) ([]core.ChartSlice, error) {
	if userID <= 0 {
		return nil, core.ErrUnauthenticated
	}

	groups, err := s.repo.SumExpensesByCategory(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Should not occur given the positive-amount constraint; guards against
	// corrupt aggregation results all the same.
	out := make([]core.ChartSlice, 0, len(groups))
	for _, g := range groups {
		if g.Value.Cents <= 0 {
			continue
		}
		out = append(out, g)
	}
	core.SortChart(out)
	return out, nil
}

// Create validates the input, resolves the optional category and inserts a
// transaction owned by the user. Validation runs before any write.
func (s *TransactionService) Create(ctx context.Context, userID int64, in TransactionInput) (core.Transaction, error) {
	if userID <= 0 {
		return core.Transaction{}, core.ErrUnauthenticated
	}

	tx, err := s.parseInput(in)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.UserID = userID

	if in.CategoryID != "" {
		cat, err := s.resolveCategory(ctx, in.CategoryID)
		if err != nil {
			return core.Transaction{}, err
		}
		tx.Category = cat
	}

	created, err := s.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, err
	}

	s.publish(ctx, eventFor(amqp.ActionCreated, created))
	return created, nil
}

// Update replaces the transaction matched by id and owner. A missing or
// non-numeric categoryId clears the category link: absence means
// uncategorized, not "keep the previous value".
func (s *TransactionService) Update(ctx context.Context, userID, id int64, in TransactionInput) (core.Transaction, error) {
	if userID <= 0 {
		return core.Transaction{}, core.ErrUnauthenticated
	}

	tx, err := s.parseInput(in)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.ID = id
	tx.UserID = userID

	if _, parseErr := strconv.ParseInt(strings.TrimSpace(in.CategoryID), 10, 64); parseErr == nil {
		cat, err := s.resolveCategory(ctx, in.CategoryID)
		if err != nil {
			return core.Transaction{}, err
		}
		tx.Category = cat
	}

	if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
		return core.Transaction{}, err
	}

	updated, err := s.repo.GetTransaction(ctx, id, userID)
	if err != nil {
		return core.Transaction{}, err
	}

	s.publish(ctx, eventFor(amqp.ActionUpdated, updated))
	return updated, nil
}

// Delete removes at most one transaction matched by id and owner. Zero rows
// matched reports NotFound, deliberately indistinguishable from "belongs to
// another user".
func (s *TransactionService) Delete(ctx context.Context, userID, id int64) error {
	if userID <= 0 {
		return core.ErrUnauthenticated
	}

	if err := s.repo.DeleteTransaction(ctx, id, userID); err != nil {
		return err
	}

	s.publish(ctx, amqp.TransactionEvent{ID: id, Action: amqp.ActionDeleted, OccurredAt: s.now()})
	return nil
}

func (s *TransactionService) parseInput(in TransactionInput) (core.Transaction, error) {
	tx := core.Transaction{
		Title: strings.TrimSpace(in.Title),
		Type:  core.TransactionType(in.Type),
		Note:  in.Note,
	}

	if strings.TrimSpace(in.Amount) == "" {
		return core.Transaction{}, core.ErrInvalidAmount
	}
	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Amount = amount

	if strings.TrimSpace(in.Date) == "" {
		tx.Date = s.now().UTC()
	} else {
		date, err := parseDate(in.Date)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("%w: invalid date %q", core.ErrInvalidArgument, in.Date)
		}
		tx.Date = date
	}

	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// resolveCategory maps the raw categoryId to a stored category. Non-numeric
// input is a malformed reference; a numeric id with no row behind it is a
// missing one.
func (s *TransactionService) resolveCategory(ctx context.Context, raw string) (*core.Category, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: categoryId must be numeric", core.ErrInvalidArgument)
	}
	cat, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, fmt.Errorf("%w: category %d", core.ErrNotFound, id)
	}
	return cat, nil
}

func (s *TransactionService) publish(ctx context.Context, ev amqp.TransactionEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTransactionEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			"id", ev.ID, "action", ev.Action, "error", err)
	}
}

func eventFor(action string, t core.Transaction) amqp.TransactionEvent {
	return amqp.TransactionEvent{
		ID:          t.ID,
		Action:      action,
		Title:       t.Title,
		AmountCents: t.Amount.Cents,
		Type:        string(t.Type),
		Category:    t.CategoryName(),
		OccurredAt:  time.Now(),
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}
