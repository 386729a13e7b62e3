package zone

import (
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// Store holds the live snapshot. Readers load the current snapshot without
// locking; ReplaceAll swaps in a fully built one, so readers see either the
// old record set or the new one.
type Store struct {
	current   atomic.Pointer[Snapshot]
	updatedAt atomic.Int64
}

// NewStore creates a store serving initial.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// ReplaceAll publishes snap as the live record set.
func (s *Store) ReplaceAll(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.current.Store(snap)
	s.updatedAt.Store(time.Now().UnixNano())
}

// Snapshot returns the live snapshot. Use one snapshot per query for a
// consistent view.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Lookup is a convenience for Snapshot().Lookup.
func (s *Store) Lookup(name string, qtype uint16) ([]dns.RR, bool) {
	return s.Snapshot().Lookup(name, qtype)
}

// Origin returns the zone apex.
func (s *Store) Origin() string {
	snap := s.Snapshot()
	if snap == nil {
		return ""
	}
	return snap.Origin()
}

// UpdatedAt returns when ReplaceAll last ran; zero if never.
func (s *Store) UpdatedAt() time.Time {
	ns := s.updatedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SOA returns the live snapshot's SOA record.
func (s *Store) SOA() *dns.SOA {
	return s.Snapshot().SOA()
}
