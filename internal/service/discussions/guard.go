package discussions

import (
	"sync"

	"github.com/google/uuid"
)

// guard enforces at most one active turn loop per discussion id.
// Acquisition never blocks: a caller finding the guard held gets false
// and reports current status instead of starting a second loop. The
// guard is scoped to one process; the conditional state transitions in
// the ledger protect against writers in other processes.
type guard struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func newGuard() *guard {
	return &guard{held: make(map[uuid.UUID]struct{})}
}

func (g *guard) tryAcquire(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[id]; ok {
		return false
	}
	g.held[id] = struct{}{}
	return true
}

func (g *guard) release(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, id)
}
