package probe

import (
	"sync"
)

// Status holds the latest result per target. It is safe for concurrent
// use by probe workers and status readers.
type Status struct {
	mu      sync.RWMutex
	results map[string]Result
}

// NewStatus returns an empty status table.
func NewStatus() *Status {
	return &Status{
		results: make(map[string]Result),
	}
}

// Set records the latest result for target.
func (s *Status) Set(target string, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[target] = r
}

// Get returns the latest result for target.
func (s *Status) Get(target string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[target]
	return r, ok
}

// Targets returns the targets with at least one recorded result.
func (s *Status) Targets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.results))
	for name := range s.results {
		names = append(names, name)
	}
	return names
}

// Snapshot returns a deep copy of all results. Mutating the returned
// map or its metric values does not affect the live table.
func (s *Status) Snapshot() map[string]Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Result, len(s.results))
	for target, r := range s.results {
		copied := r
		if r.Metrics != nil {
			copied.Metrics = make(map[string]*int64, len(r.Metrics))
			for k, v := range r.Metrics {
				if v == nil {
					copied.Metrics[k] = nil
					continue
				}
				val := *v
				copied.Metrics[k] = &val
			}
		}
		out[target] = copied
	}
	return out
}
