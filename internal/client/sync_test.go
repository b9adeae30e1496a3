package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"buget/internal/core"
)

type fakeAPI struct {
	mu         sync.Mutex
	listCalls  []core.TransactionFilter
	chartCalls int

	onTransactions func(core.TransactionFilter) ([]core.Transaction, error)
	onChart        func() ([]core.ChartSlice, error)
}

func (f *fakeAPI) Categories(context.Context) ([]core.Category, error) {
	return []core.Category{{ID: 1, Name: "Groceries"}}, nil
}

func (f *fakeAPI) Transactions(_ context.Context, filter core.TransactionFilter) ([]core.Transaction, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, filter)
	fn := f.onTransactions
	f.mu.Unlock()
	if fn != nil {
		return fn(filter)
	}
	return []core.Transaction{}, nil
}

func (f *fakeAPI) Chart(context.Context) ([]core.ChartSlice, error) {
	f.mu.Lock()
	f.chartCalls++
	fn := f.onChart
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return []core.ChartSlice{}, nil
}

func (f *fakeAPI) CreateTransaction(context.Context, TransactionPayload) (core.Transaction, error) {
	return core.Transaction{ID: 1}, nil
}

func (f *fakeAPI) UpdateTransaction(_ context.Context, id int64, _ TransactionPayload) (core.Transaction, error) {
	return core.Transaction{ID: id}, nil
}

func (f *fakeAPI) DeleteTransaction(context.Context, int64) error {
	return nil
}

func (f *fakeAPI) listFilters() []core.TransactionFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.TransactionFilter(nil), f.listCalls...)
}

func TestStartLoadsEverything(t *testing.T) {
	api := &fakeAPI{
		onTransactions: func(core.TransactionFilter) ([]core.Transaction, error) {
			return []core.Transaction{{ID: 1, Title: "Coffee"}}, nil
		},
		onChart: func() ([]core.ChartSlice, error) {
			return []core.ChartSlice{{Name: "Groceries", Value: core.Money{Cents: 100}}}, nil
		},
	}
	s := NewSynchronizer(api, WithDebounce(0))

	if !s.State().Loading {
		t.Fatal("state should report loading before Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	state := s.State()
	if state.Loading {
		t.Error("loading should be cleared after Start")
	}
	if len(state.Categories) != 1 || len(state.Transactions) != 1 || len(state.Chart) != 1 {
		t.Errorf("state after start: %+v", state)
	}
}

func TestStartReportsError(t *testing.T) {
	wantErr := errors.New("server down")
	api := &fakeAPI{
		onChart: func() ([]core.ChartSlice, error) { return nil, wantErr },
	}
	s := NewSynchronizer(api, WithDebounce(0))

	if err := s.Start(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("start err = %v", err)
	}
	if state := s.State(); !errors.Is(state.Err, wantErr) || state.Loading {
		t.Errorf("state = %+v", state)
	}
}

func TestQueryDebounceCoalescesKeystrokes(t *testing.T) {
	api := &fakeAPI{}
	done := make(chan State, 8)
	s := NewSynchronizer(api, WithDebounce(30*time.Millisecond), WithOnChange(func(st State) {
		done <- st
	}))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-done // initial load notification
	before := len(api.listFilters())

	for _, q := range []string{"g", "ga", "gas"} {
		s.SetQuery(q)
		time.Sleep(5 * time.Millisecond)
	}
	<-done

	filters := api.listFilters()[before:]
	if len(filters) != 1 {
		t.Fatalf("expected one debounced request, got %d: %+v", len(filters), filters)
	}
	if filters[0].Query != "gas" {
		t.Errorf("debounced query = %q, want final text", filters[0].Query)
	}
}

func TestCategoryChangeRefetchesImmediately(t *testing.T) {
	api := &fakeAPI{}
	s := NewSynchronizer(api, WithDebounce(time.Hour))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := len(api.listFilters())

	// A pending debounced query refresh is superseded by the facet change.
	s.SetQuery("pending")
	s.SetCategory("Groceries")

	filters := api.listFilters()[before:]
	if len(filters) != 1 {
		t.Fatalf("expected one immediate request, got %+v", filters)
	}
	if filters[0].Category != "Groceries" || filters[0].Query != "pending" {
		t.Errorf("filter = %+v", filters[0])
	}
}

func TestStaleListResponseDiscarded(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{}
	api.onTransactions = func(filter core.TransactionFilter) ([]core.Transaction, error) {
		if filter.Query == "old" {
			<-release
			return []core.Transaction{{ID: 1, Title: "stale"}}, nil
		}
		return []core.Transaction{{ID: 2, Title: "fresh " + filter.Query}}, nil
	}

	s := NewSynchronizer(api, WithDebounce(0))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SetQuery("old")
	}()
	time.Sleep(10 * time.Millisecond)
	s.SetQuery("new")
	close(release)
	wg.Wait()

	state := s.State()
	if len(state.Transactions) != 1 || state.Transactions[0].Title != "fresh new" {
		t.Fatalf("stale response must lose to the newer one: %+v", state.Transactions)
	}
}

func TestNoRequestsBeforeStart(t *testing.T) {
	api := &fakeAPI{}
	s := NewSynchronizer(api, WithDebounce(0))

	// Filter edits before Start only record the filter; the server is not
	// contacted until the identity is known.
	s.SetQuery("gas")
	s.SetCategory("Groceries")

	if got := len(api.listFilters()); got != 0 {
		t.Fatalf("requests before Start = %d, want 0", got)
	}
	if !s.State().Loading {
		t.Error("state should still report loading")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	filters := api.listFilters()
	if len(filters) != 1 || filters[0].Query != "gas" || filters[0].Category != "Groceries" {
		t.Errorf("initial load should apply the recorded filter: %+v", filters)
	}
}

func TestMutationRefreshesListAndChart(t *testing.T) {
	api := &fakeAPI{}
	s := NewSynchronizer(api, WithDebounce(0))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	listBefore := len(api.listFilters())
	api.mu.Lock()
	chartBefore := api.chartCalls
	api.mu.Unlock()

	if _, err := s.Create(context.Background(), TransactionPayload{Title: "x", Amount: "1", Type: "EXPENSE"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(context.Background(), 1); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if got := len(api.listFilters()) - listBefore; got != 2 {
		t.Errorf("list refetches = %d, want 2", got)
	}
	api.mu.Lock()
	chartCalls := api.chartCalls - chartBefore
	api.mu.Unlock()
	if chartCalls != 2 {
		t.Errorf("chart refetches = %d, want 2", chartCalls)
	}
}

func TestFailedMutationDoesNotRefresh(t *testing.T) {
	api := &fakeAPI{}
	s := NewSynchronizer(api, WithDebounce(0))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := len(api.listFilters())

	failing := &failingAPI{fakeAPI: api}
	s2 := NewSynchronizer(failing, WithDebounce(0))
	if _, err := s2.Create(context.Background(), TransactionPayload{}); err == nil {
		t.Fatal("expected create failure")
	}

	if got := len(api.listFilters()) - before; got != 0 {
		t.Errorf("failed mutation refetched %d times", got)
	}
}

type failingAPI struct {
	*fakeAPI
}

func (f *failingAPI) CreateTransaction(context.Context, TransactionPayload) (core.Transaction, error) {
	return core.Transaction{}, errors.New("rejected")
}
