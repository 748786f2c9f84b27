package history

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/psantana5/hpoprun/internal/report"
)

// DefaultMemoryCapacity is how many results a MemoryStore keeps
const DefaultMemoryCapacity = 256

// MemoryStore keeps the most recent results in a ring buffer.
// The oldest result is dropped once capacity is reached.
type MemoryStore struct {
	mu      sync.RWMutex
	results []*report.Result
	byID    map[string]*report.Result
	next    int
	full    bool
}

// NewMemoryStore creates a ring buffer of the given capacity
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		results: make([]*report.Result, capacity),
		byID:    make(map[string]*report.Result, capacity),
	}
}

// Save stores a copy of r
func (s *MemoryStore) Save(_ context.Context, r *report.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[r.RunID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, r.RunID)
	}

	if old := s.results[s.next]; old != nil {
		delete(s.byID, old.RunID)
	}

	c := clone(r)
	s.results[s.next] = c
	s.byID[c.RunID] = c

	s.next = (s.next + 1) % len(s.results)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Get returns a copy of one result, by run ID or unique prefix
func (s *MemoryStore) Get(_ context.Context, runID string) (*report.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.byID[runID]; ok {
		return clone(r), nil
	}
	if !validPrefix(runID) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}

	prefix := strings.ToLower(runID)
	var match *report.Result
	for id, r := range s.byID {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguous, runID)
		}
		match = r
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return clone(match), nil
}

// List returns results newest first
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*report.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.results)
	}

	limit := opts.limit()
	out := make([]*report.Result, 0, min(limit, size))
	for i := 1; i <= size && len(out) < limit; i++ {
		idx := (s.next - i + len(s.results)) % len(s.results)
		r := s.results[idx]
		if opts.Reason != "" && r.ExitReason != opts.Reason {
			continue
		}
		out = append(out, clone(r))
	}
	return out, nil
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func clone(r *report.Result) *report.Result {
	c := *r
	c.Args = append([]string(nil), r.Args...)
	return &c
}
