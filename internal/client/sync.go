package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"buget/internal/core"
)

// DefaultDebounce is how long query edits coalesce before hitting the server.
const DefaultDebounce = 300 * time.Millisecond

// State is the synchronizer's current view of the server data. Slices are
// never nil once Start has completed.
type State struct {
	Loading      bool
	Categories   []core.Category
	Transactions []core.Transaction
	Chart        []core.ChartSlice
	Err          error
}

// Synchronizer keeps a local State in step with the server. Query edits are
// debounced; category changes and mutations refetch immediately. Responses
// that arrive after a newer request has been issued are discarded, so the
// State always reflects the latest filter.
type Synchronizer struct {
	api      API
	debounce time.Duration
	onChange func(State)

	mu       sync.Mutex
	state    State
	filter   core.TransactionFilter
	listGen  uint64
	chartGen uint64
	timer    *time.Timer
	ctx      context.Context
}

type Option func(*Synchronizer)

// WithDebounce overrides the query debounce interval. Zero or negative makes
// query refreshes synchronous.
func WithDebounce(d time.Duration) Option {
	return func(s *Synchronizer) { s.debounce = d }
}

// WithOnChange registers a callback invoked after every state change.
func WithOnChange(fn func(State)) Option {
	return func(s *Synchronizer) { s.onChange = fn }
}

func NewSynchronizer(api API, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		api:      api,
		debounce: DefaultDebounce,
		state:    State{Loading: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a snapshot of the current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start performs the initial load: categories, transactions and chart fetched
// concurrently. Until it returns the state reports Loading.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	var (
		categories   []core.Category
		transactions []core.Transaction
		chart        []core.ChartSlice
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		categories, err = s.api.Categories(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		transactions, err = s.api.Transactions(gctx, s.currentFilter())
		return err
	})
	g.Go(func() error {
		var err error
		chart, err = s.api.Chart(gctx)
		return err
	})

	err := g.Wait()

	s.mu.Lock()
	s.state.Loading = false
	s.state.Err = err
	if err == nil {
		s.state.Categories = orEmpty(categories)
		s.state.Transactions = orEmpty(transactions)
		s.state.Chart = orEmpty(chart)
	}
	s.notifyLocked()
	s.mu.Unlock()

	return err
}

// SetQuery updates the search text. The refetch is debounced so that a burst
// of keystrokes results in a single request for the final text.
func (s *Synchronizer) SetQuery(query string) {
	s.mu.Lock()
	s.filter.Query = query
	ctx := s.ctx
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.debounce > 0 {
		s.timer = time.AfterFunc(s.debounce, func() { s.refreshList(ctx) })
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.refreshList(ctx)
}

// SetCategory updates the category facet and refetches immediately.
func (s *Synchronizer) SetCategory(category string) {
	s.mu.Lock()
	s.filter.Category = category
	ctx := s.ctx
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.refreshList(ctx)
}

// Create submits a new transaction and refreshes the cached slices.
func (s *Synchronizer) Create(ctx context.Context, payload TransactionPayload) (core.Transaction, error) {
	created, err := s.api.CreateTransaction(ctx, payload)
	if err != nil {
		return core.Transaction{}, err
	}
	s.refreshAfterMutation(ctx)
	return created, nil
}

// Update replaces a transaction and refreshes the cached slices.
func (s *Synchronizer) Update(ctx context.Context, id int64, payload TransactionPayload) (core.Transaction, error) {
	updated, err := s.api.UpdateTransaction(ctx, id, payload)
	if err != nil {
		return core.Transaction{}, err
	}
	s.refreshAfterMutation(ctx)
	return updated, nil
}

// Delete removes a transaction and refreshes the cached slices.
func (s *Synchronizer) Delete(ctx context.Context, id int64) error {
	if err := s.api.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	s.refreshAfterMutation(ctx)
	return nil
}

// refreshAfterMutation refetches list and chart concurrently. Either fetch
// may individually lose to a newer request and be discarded.
func (s *Synchronizer) refreshAfterMutation(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { s.refreshList(gctx); return nil })
	g.Go(func() error { s.refreshChart(gctx); return nil })
	_ = g.Wait()
}

func (s *Synchronizer) refreshList(ctx context.Context) {
	if ctx == nil {
		// Not started yet: identity is unresolved, so no network calls. The
		// filter edits are kept and applied by the initial load.
		return
	}

	s.mu.Lock()
	s.listGen++
	gen := s.listGen
	filter := s.filter
	s.mu.Unlock()

	list, err := s.api.Transactions(ctx, filter)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.listGen {
		// A newer request is in flight or already landed.
		return
	}
	if err != nil {
		s.state.Err = err
	} else {
		s.state.Err = nil
		s.state.Transactions = orEmpty(list)
	}
	s.notifyLocked()
}

func (s *Synchronizer) refreshChart(ctx context.Context) {
	if ctx == nil {
		return
	}

	s.mu.Lock()
	s.chartGen++
	gen := s.chartGen
	s.mu.Unlock()

	chart, err := s.api.Chart(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.chartGen {
		return
	}
	if err != nil {
		s.state.Err = err
	} else {
		s.state.Err = nil
		s.state.Chart = orEmpty(chart)
	}
	s.notifyLocked()
}

func (s *Synchronizer) currentFilter() core.TransactionFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

func (s *Synchronizer) notifyLocked() {
	if s.onChange != nil {
		s.onChange(s.state)
	}
}

func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
