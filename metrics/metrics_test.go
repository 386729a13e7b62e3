package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSync(t *testing.T) {
	p := New()
	p.ObserveSync(time.Second, nil)
	p.ObserveSync(time.Second, errors.New("fetch leases: timeout"))
	p.ObserveSync(time.Second, nil)

	if got := testutil.ToFloat64(p.syncTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("success cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.syncTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error cycles = %v, want 1", got)
	}
	if testutil.ToFloat64(p.lastSuccess) == 0 {
		t.Error("last success timestamp not set")
	}
}

func TestHandlerExposesZoneGauges(t *testing.T) {
	p := New()
	p.UpdateZone(3, 8)
	p.ObserveQuery("A", "NOERROR")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"pvedns_zone_hosts 3",
		"pvedns_zone_records 8",
		`pvedns_dns_queries_total{qtype="A",rcode="NOERROR"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
