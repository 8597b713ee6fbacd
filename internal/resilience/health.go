package resilience

import (
	"sync"
	"time"
)

// SoftFailure records one absorbed detector or source failure. Soft
// failures never abort a scan cycle; they are surfaced through logs
// and this tracker only.
type SoftFailure struct {
	Component  string
	Symbol     string
	Err        string
	OccurredAt time.Time
}

// HealthTracker aggregates soft failures per component so operators
// can tell a flaky source from a dead one.
type HealthTracker struct {
	mu       sync.RWMutex
	recent   []SoftFailure
	counts   map[string]int64
	capacity int
}

// NewHealthTracker creates a tracker retaining the last capacity failures.
func NewHealthTracker(capacity int) *HealthTracker {
	if capacity <= 0 {
		capacity = 100
	}
	return &HealthTracker{
		counts:   make(map[string]int64),
		capacity: capacity,
	}
}

// RecordSoftFailure records an absorbed failure.
func (h *HealthTracker) RecordSoftFailure(component, symbol string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counts[component]++
	h.recent = append(h.recent, SoftFailure{
		Component:  component,
		Symbol:     symbol,
		Err:        err.Error(),
		OccurredAt: time.Now(),
	})
	if len(h.recent) > h.capacity {
		h.recent = h.recent[len(h.recent)-h.capacity:]
	}
}

// FailureCount returns the total soft failures recorded for a component.
func (h *HealthTracker) FailureCount(component string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.counts[component]
}

// Recent returns a copy of the most recent soft failures.
func (h *HealthTracker) Recent() []SoftFailure {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SoftFailure, len(h.recent))
	copy(out, h.recent)
	return out
}
