// Package host joins hypervisor guests with DHCP leases on MAC address.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sort"

	"github.com/hashicorp/go-multierror"

	"pvedns/macspec"
)

// Kind is the guest type as known to Proxmox.
type Kind string

const (
	KindVM        Kind = "qemu"
	KindContainer Kind = "lxc"
)

func (k Kind) String() string {
	switch k {
	case KindVM:
		return "vm"
	case KindContainer:
		return "container"
	default:
		return string(k)
	}
}

// ErrMissingConfig is returned for guests whose configuration could not be fetched.
var ErrMissingConfig = errors.New("missing config")

// Guest is one virtual machine or container. Nets maps the interface index
// (the N in netN) to its raw spec; it is nil when the config fetch failed, in
// which case ConfigErr says why.
type Guest struct {
	ID        int
	Name      string
	Kind      Kind
	Status    string
	Nets      map[int]string
	ConfigErr error
}

// Interface is one netN entry of a guest.
type Interface struct {
	Index int
	Spec  string
}

// Interfaces returns the guest's interfaces ordered by index.
func (g Guest) Interfaces() []Interface {
	out := make([]Interface, 0, len(g.Nets))
	for idx, spec := range g.Nets {
		out = append(out, Interface{Index: idx, Spec: spec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Lease is a DHCP lease: an IPv4 address bound to a MAC.
type Lease struct {
	Address netip.Addr
	MAC     net.HardwareAddr
}

// Host is a guest name with the addresses its interfaces were leased.
type Host struct {
	Name      string
	Addresses []netip.Addr
}

// LeaseTable answers MAC lookups; the first lease for a MAC wins.
type LeaseTable struct {
	byMAC map[string]netip.Addr
}

// NewLeaseTable indexes leases by MAC.
func NewLeaseTable(leases []Lease) *LeaseTable {
	t := &LeaseTable{byMAC: make(map[string]netip.Addr, len(leases))}
	for _, l := range leases {
		key := macKey(l.MAC)
		if _, seen := t.byMAC[key]; seen {
			continue
		}
		t.byMAC[key] = l.Address
	}
	return t
}

// Lookup returns the leased address for mac.
func (t *LeaseTable) Lookup(mac net.HardwareAddr) (netip.Addr, bool) {
	if t == nil {
		return netip.Addr{}, false
	}
	addr, ok := t.byMAC[macKey(mac)]
	return addr, ok
}

func macKey(mac net.HardwareAddr) string {
	return string(mac)
}

// Resolve correlates one guest with the lease table. Interfaces without a
// parsable MAC are logged and skipped; MACs without a lease are ignored. The
// returned host may have no addresses.
func Resolve(g Guest, leases *LeaseTable, logger *slog.Logger) (Host, error) {
	if g.ConfigErr != nil || g.Nets == nil {
		return Host{}, fmt.Errorf("%s %d (%s): %w", g.Kind, g.ID, g.Name, missingConfig(g.ConfigErr))
	}

	h := Host{Name: g.Name}
	for _, iface := range g.Interfaces() {
		mac, err := macspec.Extract(iface.Spec)
		if err != nil {
			if logger != nil {
				logger.Error("extract mac failed",
					"guest_id", g.ID, "guest", g.Name, "interface", fmt.Sprintf("net%d", iface.Index), "error", err)
			}
			continue
		}
		addr, ok := leases.Lookup(mac)
		if !ok {
			continue
		}
		if !containsAddr(h.Addresses, addr) {
			h.Addresses = append(h.Addresses, addr)
		}
	}
	return h, nil
}

func missingConfig(cause error) error {
	if cause == nil {
		return ErrMissingConfig
	}
	return fmt.Errorf("%w: %w", ErrMissingConfig, cause)
}

// ResolveAll resolves every guest in order. Failed guests are logged and left
// out; their errors are aggregated into the returned error, which is nil when
// every guest resolved.
func ResolveAll(guests []Guest, leases []Lease, logger *slog.Logger) ([]Host, error) {
	table := NewLeaseTable(leases)
	hosts := make([]Host, 0, len(guests))
	var errs *multierror.Error
	for _, g := range guests {
		h, err := Resolve(g, table, logger)
		if err != nil {
			if logger != nil {
				logger.Error("resolve guest failed", "guest_id", g.ID, "guest", g.Name, "kind", g.Kind.String(), "error", err)
			}
			errs = multierror.Append(errs, err)
			continue
		}
		hosts = append(hosts, h)
	}
	return hosts, errs.ErrorOrNil()
}

func containsAddr(addrs []netip.Addr, addr netip.Addr) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}
