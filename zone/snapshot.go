// Copyright 2024-2026 George (earentir) Pantazis (https://earentir.dev)
// SPDX-License-Identifier: GPL-2.0-only

// Package zone builds and serves the synchronized DNS zone.
package zone

import (
	"strings"

	"github.com/miekg/dns"
)

// Snapshot is an immutable, fully built record set for one origin. Callers
// must not modify the records it hands out.
type Snapshot struct {
	origin  string
	records []dns.RR
	byName  map[string][]dns.RR
	hosts   int
}

// NewSnapshot indexes records under origin. The records slice is owned by the
// snapshot afterwards.
func NewSnapshot(origin string, records []dns.RR) *Snapshot {
	s := &Snapshot{
		origin:  CanonicalName(origin),
		records: records,
		byName:  make(map[string][]dns.RR, len(records)),
	}
	for _, rr := range records {
		key := CanonicalName(rr.Header().Name)
		s.byName[key] = append(s.byName[key], rr)
	}
	return s
}

// Origin returns the zone apex as a lower-case FQDN.
func (s *Snapshot) Origin() string { return s.origin }

// Records returns every record in build order.
func (s *Snapshot) Records() []dns.RR {
	if s == nil {
		return nil
	}
	return s.records
}

// Hosts returns how many hosts Build published records for. Snapshots made
// with NewSnapshot report zero.
func (s *Snapshot) Hosts() int {
	if s == nil {
		return 0
	}
	return s.hosts
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// SOA returns the zone's SOA record, or nil if the snapshot has none.
func (s *Snapshot) SOA() *dns.SOA {
	if s == nil {
		return nil
	}
	for _, rr := range s.byName[s.origin] {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa
		}
	}
	return nil
}

// Lookup returns the records of qtype owned by name. nameExists reports
// whether the name owns any record at all, so callers can tell NODATA from
// NXDOMAIN. dns.TypeANY returns every record at the name.
func (s *Snapshot) Lookup(name string, qtype uint16) (rrs []dns.RR, nameExists bool) {
	if s == nil {
		return nil, false
	}
	all, ok := s.byName[CanonicalName(name)]
	if !ok {
		return nil, false
	}
	if qtype == dns.TypeANY {
		return all, true
	}
	for _, rr := range all {
		if rr.Header().Rrtype == qtype {
			rrs = append(rrs, rr)
		}
	}
	return rrs, true
}

// InZone reports whether name is the origin or below it.
func (s *Snapshot) InZone(name string) bool {
	if s == nil {
		return false
	}
	return dns.IsSubDomain(s.origin, CanonicalName(name))
}

// Strings renders every record in zone-file form, in build order.
func (s *Snapshot) Strings() []string {
	out := make([]string, 0, s.Len())
	for _, rr := range s.Records() {
		out = append(out, rr.String())
	}
	return out
}

// CanonicalName lower-cases name and makes it fully qualified.
func CanonicalName(name string) string {
	return dns.Fqdn(strings.ToLower(strings.TrimSpace(name)))
}
