package store

import (
	"context"
	"sync"

	"qback/internal/types"
)

// MemoryStore keeps run output in process. Used by tests and by runs that
// operate without a database.
type MemoryStore struct {
	mu sync.Mutex

	Progress   []types.Progress
	Snapshots  []types.DailySnapshot
	Orders     []types.Order
	Executions []types.Execution
	Statistics []types.RunStatistics
	Periods    []types.PeriodReturn
	Matches    []types.TradeMatch
	Closed     []types.ClosedPosition

	// FailDays makes SaveDay fail for the given date keys, for testing the
	// per-day retry and rollback path
	FailDays map[string]int
}

// NewMemoryStore creates an empty in-memory result store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{FailDays: make(map[string]int)}
}

// SaveProgress appends the progress record
func (s *MemoryStore) SaveProgress(_ context.Context, p types.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Progress = append(s.Progress, p)
	return nil
}

// SaveDay appends the day's snapshot and fills, or fails the configured
// number of times for that date
func (s *MemoryStore) SaveDay(_ context.Context, snap types.DailySnapshot, orders []types.Order, execs []types.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snap.Date.Format("2006-01-02")
	if n, ok := s.FailDays[key]; ok && n > 0 {
		s.FailDays[key] = n - 1
		return errFailDay
	}
	s.Snapshots = append(s.Snapshots, snap)
	s.Orders = append(s.Orders, orders...)
	s.Executions = append(s.Executions, execs...)
	return nil
}

// SaveResult stores the terminal run output
func (s *MemoryStore) SaveResult(_ context.Context, st types.RunStatistics, periods []types.PeriodReturn, matches []types.TradeMatch, closed []types.ClosedPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Statistics = append(s.Statistics, st)
	s.Periods = append(s.Periods, periods...)
	s.Matches = append(s.Matches, matches...)
	s.Closed = append(s.Closed, closed...)
	return nil
}

// LastProgress returns the most recent progress record, if any
func (s *MemoryStore) LastProgress() (types.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Progress) == 0 {
		return types.Progress{}, false
	}
	return s.Progress[len(s.Progress)-1], true
}

var errFailDay = &dayError{}

type dayError struct{}

func (*dayError) Error() string { return "injected day persistence failure" }
