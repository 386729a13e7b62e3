package zone

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/miekg/dns"

	"pvedns/host"
)

const (
	DefaultRecordTTL = 60
	DefaultSOATTL    = 300
	DefaultCatchAll  = "_all"

	maxLabelLength = 63
)

// Builder turns resolved hosts into a snapshot for Origin.
type Builder struct {
	Origin    string
	RecordTTL uint32
	SOATTL    uint32
	CatchAll  string
	Logger    *slog.Logger
}

// NewBuilder returns a Builder for origin with the default TTLs and catch-all name.
func NewBuilder(origin string, logger *slog.Logger) *Builder {
	return &Builder{
		Origin:    origin,
		RecordTTL: DefaultRecordTTL,
		SOATTL:    DefaultSOATTL,
		CatchAll:  DefaultCatchAll,
		Logger:    logger,
	}
}

// SOA returns the zone's SOA. All timers and the serial are zero: the zone is
// rebuilt from scratch every cycle and is never transferred.
func (b *Builder) SOA() *dns.SOA {
	origin := CanonicalName(b.Origin)
	return &dns.SOA{
		Hdr:  dns.RR_Header{Name: origin, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: b.SOATTL},
		Ns:   origin,
		Mbox: origin,
	}
}

// Empty returns a snapshot holding only the SOA.
func (b *Builder) Empty() *Snapshot {
	return NewSnapshot(b.Origin, []dns.RR{b.SOA()})
}

// Build creates a fresh snapshot: the SOA, one A record per host address under
// the host name, then one A record per distinct address under the catch-all
// name. Hosts without addresses and hosts whose name is not a valid DNS label
// produce no records.
func (b *Builder) Build(hosts []host.Host) *Snapshot {
	origin := CanonicalName(b.Origin)
	records := []dns.RR{b.SOA()}
	catchAllName := b.CatchAll + "." + origin

	var all []netip.Addr
	seen := make(map[netip.Addr]struct{})
	published := 0
	for _, h := range hosts {
		if len(h.Addresses) == 0 {
			continue
		}
		if err := ValidateLabel(h.Name); err != nil {
			if b.Logger != nil {
				b.Logger.Warn("skipping host with invalid name", "host", h.Name, "error", err)
			}
			continue
		}
		owner := h.Name + "." + origin
		added := make(map[netip.Addr]struct{}, len(h.Addresses))
		for _, addr := range h.Addresses {
			if !addr.Is4() {
				continue
			}
			if _, dup := added[addr]; dup {
				continue
			}
			added[addr] = struct{}{}
			records = append(records, b.a(owner, addr))
			if _, dup := seen[addr]; !dup {
				seen[addr] = struct{}{}
				all = append(all, addr)
			}
		}
		if len(added) > 0 {
			published++
		}
	}
	for _, addr := range all {
		records = append(records, b.a(catchAllName, addr))
	}
	snap := NewSnapshot(origin, records)
	snap.hosts = published
	return snap
}

func (b *Builder) a(owner string, addr netip.Addr) *dns.A {
	return &dns.A{
		Hdr: dns.RR_Header{Name: owner, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: b.RecordTTL},
		A:   addr.AsSlice(),
	}
}

// ValidateLabel checks that name is a single DNS label: 1-63 letters, digits,
// hyphens or underscores, not starting or ending with a hyphen.
func ValidateLabel(name string) error {
	if name == "" {
		return fmt.Errorf("empty label")
	}
	if len(name) > maxLabelLength {
		return fmt.Errorf("label %q longer than %d characters", name, maxLabelLength)
	}
	if name[0] == '-' || name[len(name)-1] == '-' {
		return fmt.Errorf("label %q starts or ends with a hyphen", name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("label %q contains invalid character %q", name, c)
		}
	}
	return nil
}
