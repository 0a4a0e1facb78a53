package conversation

import (
	"context"
	"errors"
	"sync"
)

// ErrWatching rejects commands on a conversation under background watch.
var ErrWatching = errors.New("conversation: cannot run while watching") //nolint:gochecknoglobals // sentinel error

// AllowedWhileWatching reports whether cmd may run on a watched
// conversation. Everything else is rejected before touching the Gate.
func AllowedWhileWatching(cmd string) bool {
	switch cmd {
	case "status", "stopwatch", "help":
		return true
	default:
		return false
	}
}

// WatchSet tracks conversations with an active terminal-style watch.
type WatchSet struct {
	mu      sync.Mutex
	watches map[Key]context.CancelFunc
}

func NewWatchSet() *WatchSet {
	return &WatchSet{watches: make(map[Key]context.CancelFunc)}
}

// Start registers a watch. It returns false if key is already watched.
func (w *WatchSet) Start(key Key, cancel context.CancelFunc) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watches[key]; ok {
		return false
	}
	w.watches[key] = cancel
	return true
}

// Stop cancels and removes the watch on key, reporting whether one existed.
func (w *WatchSet) Stop(key Key) bool {
	w.mu.Lock()
	cancel, ok := w.watches[key]
	delete(w.watches, key)
	w.mu.Unlock()

	if ok && cancel != nil {
		cancel()
	}
	return ok
}

// Done removes the watch without cancelling it. The watch loop calls it on
// exit.
func (w *WatchSet) Done(key Key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watches, key)
}

func (w *WatchSet) IsWatching(key Key) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watches[key]
	return ok
}

// Check returns ErrWatching when cmd may not run on key right now.
func (w *WatchSet) Check(key Key, cmd string) error {
	if AllowedWhileWatching(cmd) || !w.IsWatching(key) {
		return nil
	}
	return ErrWatching
}
