package host

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// recordingHandler keeps every log record so tests can count failures.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler            { return h }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.records))
	for _, r := range h.records {
		out = append(out, r.Message)
	}
	return out
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%q): %v", s, err)
	}
	return mac
}

func lease(t *testing.T, addr, mac string) Lease {
	t.Helper()
	return Lease{Address: netip.MustParseAddr(addr), MAC: mustMAC(t, mac)}
}

func TestResolveMatchedAndUnparsable(t *testing.T) {
	rec := &recordingHandler{}
	logger := slog.New(rec)
	leases := NewLeaseTable([]Lease{lease(t, "10.0.0.5", "AA:AA:AA:AA:AA:AA")})
	g := Guest{
		ID:   100,
		Name: "web1",
		Kind: KindVM,
		Nets: map[int]string{
			0: "virtio=AA:AA:AA:AA:AA:AA,bridge=vmbr0",
			1: "bridge=vmbr1,tag=10",
		},
	}

	h, err := Resolve(g, leases, logger)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	want := Host{Name: "web1", Addresses: []netip.Addr{netip.MustParseAddr("10.0.0.5")}}
	if diff := cmp.Diff(want, h, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
	}
	if msgs := rec.messages(); len(msgs) != 1 || msgs[0] != "extract mac failed" {
		t.Errorf("logged %q, want exactly one \"extract mac failed\"", msgs)
	}
}

func TestResolveUnmatchedIsSilent(t *testing.T) {
	rec := &recordingHandler{}
	g := Guest{ID: 101, Name: "offline", Kind: KindContainer, Nets: map[int]string{
		0: "name=eth0,hwaddr=BC:24:11:00:00:01,bridge=vmbr0",
	}}
	h, err := Resolve(g, NewLeaseTable(nil), slog.New(rec))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if h.Name != "offline" || len(h.Addresses) != 0 {
		t.Errorf("Resolve = %+v, want named host without addresses", h)
	}
	if msgs := rec.messages(); len(msgs) != 0 {
		t.Errorf("unexpected log output %q", msgs)
	}
}

func TestResolveMissingConfig(t *testing.T) {
	cause := errors.New("proxmox API 500")
	g := Guest{ID: 102, Name: "broken", Kind: KindVM, ConfigErr: cause}
	_, err := Resolve(g, NewLeaseTable(nil), nil)
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("Resolve error = %v, want ErrMissingConfig", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Resolve error = %v, want it to wrap the fetch error", err)
	}
}

func TestResolveKeepsIndexOrderAndDedupes(t *testing.T) {
	leases := NewLeaseTable([]Lease{
		lease(t, "10.0.0.7", "02:00:00:00:00:07"),
		lease(t, "10.0.0.3", "02:00:00:00:00:03"),
		lease(t, "10.0.0.99", "02:00:00:00:00:03"), // later lease for the same MAC is ignored
	})
	g := Guest{ID: 103, Name: "multi", Kind: KindVM, Nets: map[int]string{
		7: "virtio=02:00:00:00:00:07",
		2: "virtio=02:00:00:00:00:03",
		4: "virtio=02:00:00:00:00:03",
	}}
	h, err := Resolve(g, leases, nil)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	got := make([]string, 0, len(h.Addresses))
	for _, a := range h.Addresses {
		got = append(got, a.String())
	}
	if diff := cmp.Diff([]string{"10.0.0.3", "10.0.0.7"}, got); diff != "" {
		t.Errorf("addresses mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveAllContinuesPastFailures(t *testing.T) {
	rec := &recordingHandler{}
	leases := []Lease{
		lease(t, "10.0.0.5", "AA:AA:AA:AA:AA:AA"),
		lease(t, "10.0.0.6", "BB:BB:BB:BB:BB:BB"),
	}
	guests := []Guest{
		{ID: 1, Name: "web1", Kind: KindVM, Nets: map[int]string{0: "virtio=AA:AA:AA:AA:AA:AA"}},
		{ID: 2, Name: "nocfg", Kind: KindVM, ConfigErr: errors.New("timeout")},
		{ID: 3, Name: "db1", Kind: KindContainer, Nets: map[int]string{0: "name=eth0,hwaddr=bb:bb:bb:bb:bb:bb"}},
	}
	hosts, err := ResolveAll(guests, leases, slog.New(rec))
	if err == nil || !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("ResolveAll error = %v, want aggregated ErrMissingConfig", err)
	}
	if len(hosts) != 2 || hosts[0].Name != "web1" || hosts[1].Name != "db1" {
		t.Fatalf("ResolveAll hosts = %+v, want web1 and db1", hosts)
	}
	if msgs := rec.messages(); len(msgs) != 1 || msgs[0] != "resolve guest failed" {
		t.Errorf("logged %q, want one \"resolve guest failed\"", msgs)
	}
}

func TestResolveAllNoErrors(t *testing.T) {
	hosts, err := ResolveAll([]Guest{{ID: 1, Name: "empty", Kind: KindVM, Nets: map[int]string{}}}, nil, nil)
	if err != nil {
		t.Fatalf("ResolveAll error = %v, want nil", err)
	}
	if len(hosts) != 1 {
		t.Errorf("ResolveAll returned %d hosts, want 1", len(hosts))
	}
}
