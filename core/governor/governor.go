// Package governor bounds how many training jobs may be in flight at once.
package governor

import "sync"

// Governor admits at most limit concurrent jobs. A slot is claimed before a
// submission attempt and returned when the job leaves the in-flight states.
type Governor struct {
	mu    sync.Mutex
	limit int
	held  int
}

// New creates a governor with the given slot limit.
func New(limit int) *Governor {
	return &Governor{limit: limit}
}

// TryAcquire claims a slot, reporting false when all slots are held.
func (g *Governor) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held >= g.limit {
		return false
	}
	g.held++
	return true
}

// Release returns a slot claimed by TryAcquire.
func (g *Governor) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held > 0 {
		g.held--
	}
}

// InFlight returns the number of held slots.
func (g *Governor) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Limit returns the configured slot limit.
func (g *Governor) Limit() int {
	return g.limit
}
