package mcp

import "sync"

type watch struct {
	sessionID string
	cancel    func()
}

// WatchRegistry maps watch IDs to the MCP session that receives them.
// Entries are added by wfstatus.watch and dropped when cancelled or when
// their session goes away.
type WatchRegistry struct {
	mu      sync.RWMutex
	watches map[string]watch // watchID → watch
}

// NewWatchRegistry creates a new empty WatchRegistry.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{watches: make(map[string]watch)}
}

// Add registers a watch. cancel stops its subscription.
func (r *WatchRegistry) Add(watchID, sessionID string, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watches[watchID] = watch{sessionID: sessionID, cancel: cancel}
}

// SessionFor returns the session a watch notifies.
func (r *WatchRegistry) SessionFor(watchID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.watches[watchID]
	return w.sessionID, ok
}

// Cancel stops one watch. It reports whether the watch existed.
func (r *WatchRegistry) Cancel(watchID string) bool {
	r.mu.Lock()
	w, ok := r.watches[watchID]
	delete(r.watches, watchID)
	r.mu.Unlock()
	if ok && w.cancel != nil {
		w.cancel()
	}
	return ok
}

// RemoveSession stops every watch of a session and returns how many there were.
func (r *WatchRegistry) RemoveSession(sessionID string) int {
	r.mu.Lock()
	var cancels []func()
	for id, w := range r.watches {
		if w.sessionID == sessionID {
			cancels = append(cancels, w.cancel)
			delete(r.watches, id)
		}
	}
	r.mu.Unlock()

	for _, c := range cancels {
		if c != nil {
			c()
		}
	}
	return len(cancels)
}

// Count returns the number of active watches.
func (r *WatchRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watches)
}

// Close stops every watch.
func (r *WatchRegistry) Close() {
	r.mu.Lock()
	all := r.watches
	r.watches = make(map[string]watch)
	r.mu.Unlock()

	for _, w := range all {
		if w.cancel != nil {
			w.cancel()
		}
	}
}
