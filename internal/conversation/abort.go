package conversation

import "sync"

// AbortTracker flags conversations whose background sync should stop. The
// sync loop checks the flag between turns only.
type AbortTracker struct {
	mu      sync.Mutex
	flagged map[Key]struct{}
}

func NewAbortTracker() *AbortTracker {
	return &AbortTracker{flagged: make(map[Key]struct{})}
}

func (a *AbortTracker) Mark(key Key) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flagged[key] = struct{}{}
}

func (a *AbortTracker) Clear(key Key) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.flagged, key)
}

func (a *AbortTracker) IsSet(key Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.flagged[key]
	return ok
}

// Consume clears the flag and reports whether it was set.
func (a *AbortTracker) Consume(key Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.flagged[key]
	delete(a.flagged, key)
	return ok
}
