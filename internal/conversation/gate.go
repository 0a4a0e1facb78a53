package conversation

import "sync"

// Gate admits at most one long-running operation per conversation. Callers
// that win TryAcquire must release on every exit path:
//
//	if !gate.TryAcquire(key) {
//		return busy
//	}
//	defer gate.Release(key)
type Gate struct {
	mu   sync.Mutex
	busy map[Key]struct{}
}

func NewGate() *Gate {
	return &Gate{busy: make(map[Key]struct{})}
}

// TryAcquire marks key busy and reports whether it was free.
func (g *Gate) TryAcquire(key Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.busy[key]; ok {
		return false
	}
	g.busy[key] = struct{}{}
	return true
}

// Release frees key. Releasing a free key is a no-op.
func (g *Gate) Release(key Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, key)
}

func (g *Gate) IsBusy(key Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.busy[key]
	return ok
}

// Len returns the number of busy conversations.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.busy)
}
