package proxmox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pvedns/host"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL, Username: "root@pam!dns", TokenID: "secret", Node: "pve1", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{URL: "", Node: "pve1"},
		{URL: "ftp://pve.lan:8006", Node: "pve1"},
		{URL: "https://", Node: "pve1"},
		{URL: "https://pve.lan:8006", Node: " "},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Errorf("New(%+v) = nil error, want failure", cfg)
		}
	}
}

func TestGuestsFetchesConfigs(t *testing.T) {
	var authOK atomic.Bool
	authOK.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/qemu", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "PVEAPIToken=root@pam!dns=secret" {
			authOK.Store(false)
		}
		_, _ = w.Write([]byte(`{"data":[{"vmid":101,"name":"db1","status":"running"},{"vmid":100,"name":"web1","status":"running"}]}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve1/qemu/100/config", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"name":"web1","memory":2048,"net0":"virtio=AA:AA:AA:AA:AA:AA,bridge=vmbr0","net3":"virtio=BB:BB:BB:BB:BB:BB"}}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve1/qemu/101/config", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	})

	c := newTestClient(t, mux)
	guests, err := c.VirtualMachines(context.Background())
	if err != nil {
		t.Fatalf("VirtualMachines: %v", err)
	}
	if !authOK.Load() {
		t.Error("request carried the wrong Authorization header")
	}
	if len(guests) != 2 {
		t.Fatalf("got %d guests, want 2", len(guests))
	}

	web := guests[0]
	if web.ID != 100 || web.Name != "web1" || web.Kind != host.KindVM || web.ConfigErr != nil {
		t.Errorf("web1 = %+v", web)
	}
	wantNets := map[int]string{0: "virtio=AA:AA:AA:AA:AA:AA,bridge=vmbr0", 3: "virtio=BB:BB:BB:BB:BB:BB"}
	if diff := cmp.Diff(wantNets, web.Nets); diff != "" {
		t.Errorf("web1 nets mismatch (-want +got):\n%s", diff)
	}

	db := guests[1]
	if db.ID != 101 || db.Nets != nil {
		t.Errorf("db1 = %+v, want no nets", db)
	}
	var apiErr *APIError
	if !errors.As(db.ConfigErr, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("db1 ConfigErr = %v, want *APIError 403", db.ConfigErr)
	}
}

func TestContainersAcceptStringVMID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/lxc", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"vmid":"200","name":"ct1","status":"stopped"}]}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve1/lxc/200/config", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"hostname":"ct1","net0":"name=eth0,hwaddr=BC:24:11:00:00:01,ip=dhcp"}}`))
	})

	guests, err := newTestClient(t, mux).Containers(context.Background())
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(guests) != 1 || guests[0].ID != 200 || guests[0].Kind != host.KindContainer {
		t.Fatalf("Containers = %+v", guests)
	}
	if guests[0].Nets[0] != "name=eth0,hwaddr=BC:24:11:00:00:01,ip=dhcp" {
		t.Errorf("net0 = %q", guests[0].Nets[0])
	}
}

func TestGuestsListFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/qemu", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := newTestClient(t, mux).VirtualMachines(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("VirtualMachines error = %v, want *APIError 500", err)
	}
}

func TestGuestsMalformedList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/lxc", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"vmid":"abc","name":"x"}]}`))
	})
	_, err := newTestClient(t, mux).Containers(context.Background())
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("Containers error = %v, want *DecodeError", err)
	}
	if decErr.Body == "" {
		t.Error("DecodeError should carry the response body")
	}
}

func TestDecodeNets(t *testing.T) {
	raw := map[string]json.RawMessage{
		"net0":      json.RawMessage(`"virtio=AA:AA:AA:AA:AA:AA"`),
		"net12":     json.RawMessage(`"virtio=BB:BB:BB:BB:BB:BB"`),
		"netx":      json.RawMessage(`"ignored"`),
		"network0":  json.RawMessage(`"ignored"`),
		"net5":      json.RawMessage(`5`),
		"memory":    json.RawMessage(`2048`),
		"ipconfig0": json.RawMessage(`"ip=dhcp"`),
	}
	want := map[int]string{0: "virtio=AA:AA:AA:AA:AA:AA", 12: "virtio=BB:BB:BB:BB:BB:BB"}
	if diff := cmp.Diff(want, DecodeNets(raw)); diff != "" {
		t.Errorf("DecodeNets mismatch (-want +got):\n%s", diff)
	}
}

func TestGuestsDeadlineDuringConfigFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve1/qemu", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"vmid":100,"name":"web1","status":"running"}]}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve1/qemu/100/config", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	guests, err := newTestClient(t, mux).VirtualMachines(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("VirtualMachines error = %v, want deadline exceeded", err)
	}
	if guests != nil {
		t.Errorf("VirtualMachines returned %d guests alongside the error", len(guests))
	}
}
