package syncer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"

	"pvedns/proxmox"
	"pvedns/routeros"
	"pvedns/zone"
)

// pveServer serves one VM and one container. While slowVM is set the VM
// config request hangs until the client gives up.
func pveServer(t *testing.T, slowVM *atomic.Bool) *proxmox.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/qemu", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"vmid":100,"name":"web1","status":"running"}]}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve1/qemu/100/config", func(w http.ResponseWriter, r *http.Request) {
		if slowVM != nil && slowVM.Load() {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(3 * time.Second):
			}
		}
		_, _ = w.Write([]byte(`{"data":{"name":"web1","net0":"virtio=AA:AA:AA:AA:AA:AA,bridge=vmbr0"}}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve1/lxc", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"vmid":"200","name":"ct1","status":"running"}]}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve1/lxc/200/config", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"hostname":"ct1","net0":"name=eth0,hwaddr=BB:BB:BB:BB:BB:BB,bridge=vmbr0"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := proxmox.New(proxmox.Config{URL: srv.URL, Username: "root@pam!dns", TokenID: "secret", Node: "pve1"})
	if err != nil {
		t.Fatalf("proxmox.New: %v", err)
	}
	return c
}

func rosServer(t *testing.T) *routeros.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/ip/dhcp-server/lease", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"address":"10.0.0.5","mac-address":"AA:AA:AA:AA:AA:AA"},
			{"address":"10.0.0.6","mac-address":"BB:BB:BB:BB:BB:BB"}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := routeros.New(routeros.Config{URL: srv.URL, Username: "admin", Password: "pw"})
	if err != nil {
		t.Fatalf("routeros.New: %v", err)
	}
	return c
}

func aValue(t *testing.T, store *zone.Store, name string) string {
	t.Helper()
	rrs, ok := store.Lookup(name, dns.TypeA)
	if !ok || len(rrs) != 1 {
		t.Fatalf("Lookup(%s) = %v, %v; want one A record", name, rrs, ok)
	}
	return rrs[0].(*dns.A).A.String()
}

func TestRunOnceWithAPIClients(t *testing.T) {
	s, store, _ := newSyncer(t, pveServer(t, nil), rosServer(t), nil)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := aValue(t, store, "web1.home.lan."); got != "10.0.0.5" {
		t.Errorf("web1 = %s, want 10.0.0.5", got)
	}
	if got := aValue(t, store, "ct1.home.lan."); got != "10.0.0.6" {
		t.Errorf("ct1 = %s, want 10.0.0.6", got)
	}
	st := s.Status()
	if st.Hosts != 2 || st.Records != 5 || st.GuestErrors != 0 {
		t.Errorf("Status = %+v", st)
	}
}

func TestConfigTimeoutKeepsPreviousZone(t *testing.T) {
	var slow atomic.Bool
	b := zone.NewBuilder("home.lan", nil)
	store := zone.NewStore(b.Empty())
	s, err := New(Config{
		Inventory:      pveServer(t, &slow),
		Leases:         rosServer(t),
		Builder:        b,
		Store:          store,
		RequestTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	before := store.Snapshot()
	if before.Len() != 5 {
		t.Fatalf("first cycle published %d records, want 5", before.Len())
	}

	slow.Store(true)
	err = s.RunOnce(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunOnce error = %v, want deadline exceeded", err)
	}
	if !strings.Contains(err.Error(), "fetch vms") {
		t.Errorf("error %q does not mention fetch vms", err)
	}
	if store.Snapshot() != before {
		t.Error("store changed after the config fetch timed out")
	}
	if got := aValue(t, store, "web1.home.lan."); got != "10.0.0.5" {
		t.Errorf("web1 = %s after failed cycle, want 10.0.0.5", got)
	}
}
