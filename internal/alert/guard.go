package alert

import (
	"fmt"
	"sync"
)

// DedupKey identifies one alert event: a pair and the reading timestamp
func DedupKey(pairID string, timestamp int64) string {
	return fmt.Sprintf("%s_%d", pairID, timestamp)
}

// ProcessedSet tracks alert events that were already delivered, plus the
// events currently being dispatched so overlapping deliveries of the same
// event cannot both proceed.
type ProcessedSet struct {
	mu       sync.Mutex
	done     map[string]struct{}
	inFlight map[string]struct{}
}

// NewProcessedSet creates an empty set
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{
		done:     make(map[string]struct{}),
		inFlight: make(map[string]struct{}),
	}
}

// Begin claims key for dispatch. It returns false when the key was already
// processed or another dispatch holds it.
func (s *ProcessedSet) Begin(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.done[key]; ok {
		return false
	}
	if _, ok := s.inFlight[key]; ok {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

// Complete releases a claim and marks key processed
func (s *ProcessedSet) Complete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
	s.done[key] = struct{}{}
}

// Abort releases a claim without marking key processed
func (s *ProcessedSet) Abort(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
}

// Has reports whether key was processed
func (s *ProcessedSet) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.done[key]
	return ok
}

// Len returns the number of processed keys
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.done)
}

// Guard owns the notification bookkeeping for one process: the processed
// event set in front of the per-pair throttle. Both start empty.
type Guard struct {
	processed *ProcessedSet
	limiter   Limiter
}

// NewGuard creates a guard around limiter
func NewGuard(limiter Limiter) *Guard {
	return &Guard{
		processed: NewProcessedSet(),
		limiter:   limiter,
	}
}

// Processed exposes the processed event set
func (g *Guard) Processed() *ProcessedSet {
	return g.processed
}

// Limiter exposes the throttle
func (g *Guard) Limiter() Limiter {
	return g.limiter
}
