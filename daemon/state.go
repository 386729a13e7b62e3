// Package daemon holds the runtime state shared by the DNS server, the sync
// loop and the API.
package daemon

import (
	"sync"
	"sync/atomic"
	"time"
)

// ListenerSettings captures the runtime listener configuration for the daemon.
type ListenerSettings struct {
	DNSAddr    string
	APIAddr    string
	APIEnabled bool
	Domain     string
}

// State owns mutable runtime data for the daemon process.
type State struct {
	serverStatusMu sync.RWMutex
	serverUp       bool

	listenerMu sync.RWMutex
	listener   ListenerSettings

	apiRunning  atomic.Bool
	restored    atomic.Bool
	lastSuccess atomic.Int64
	startedAt   time.Time
}

// NewState builds a State with initial runtime defaults.
func NewState() *State {
	return &State{startedAt: time.Now()}
}

// SetServerStatus stores whether the DNS server is currently running.
func (s *State) SetServerStatus(up bool) {
	s.serverStatusMu.Lock()
	s.serverUp = up
	s.serverStatusMu.Unlock()
}

// ServerStatus reports whether the DNS server is currently running.
func (s *State) ServerStatus() bool {
	s.serverStatusMu.RLock()
	defer s.serverStatusMu.RUnlock()
	return s.serverUp
}

// UpdateListener applies a mutation to the stored listener settings.
func (s *State) UpdateListener(update func(*ListenerSettings)) {
	s.listenerMu.Lock()
	update(&s.listener)
	s.listenerMu.Unlock()
}

// ListenerSnapshot returns a copy of the current listener settings.
func (s *State) ListenerSnapshot() ListenerSettings {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.listener
}

// SetAPIRunning records the API server running state.
func (s *State) SetAPIRunning(running bool) {
	s.apiRunning.Store(running)
}

// APIRunning reports whether the API server goroutine is currently running.
func (s *State) APIRunning() bool {
	return s.apiRunning.Load()
}

// MarkRestored records that a persisted zone was loaded at startup.
func (s *State) MarkRestored() {
	s.restored.Store(true)
}

// Restored reports whether the zone came from disk rather than a sync cycle.
func (s *State) Restored() bool {
	return s.restored.Load()
}

// MarkSynced records a successful sync cycle at t.
func (s *State) MarkSynced(t time.Time) {
	s.lastSuccess.Store(t.UnixNano())
}

// LastSync returns the time of the last successful sync; zero if none.
func (s *State) LastSync() time.Time {
	ns := s.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Ready reports whether the DNS server is up and serving a zone that came from
// either a completed sync or the persisted snapshot.
func (s *State) Ready() bool {
	return s.ServerStatus() && (s.restored.Load() || s.lastSuccess.Load() != 0)
}

// Uptime returns how long the process has been running.
func (s *State) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
