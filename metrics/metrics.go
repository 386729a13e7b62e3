// Package metrics exposes sync and DNS counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "pvedns"

	resultLabel = "result"
	qtypeLabel  = "qtype"
	rcodeLabel  = "rcode"
)

// Client records the events the sync loop and the DNS server care about.
type Client interface {
	ObserveSync(duration time.Duration, err error)
	UpdateZone(hosts, records int)
	ObserveQuery(qtype, rcode string)
}

// Prometheus is a Client backed by its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	syncTotal    *prometheus.CounterVec
	syncDuration prometheus.Histogram
	lastSuccess  prometheus.Gauge
	zoneHosts    prometheus.Gauge
	zoneRecords  prometheus.Gauge
	queries      *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		syncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Sync cycles by result.",
		}, []string{resultLabel}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sync cycle.",
		}),
		zoneHosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_hosts",
			Help:      "Hosts with records in the published zone.",
		}),
		zoneRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone_records",
			Help:      "Records in the published zone, SOA included.",
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_queries_total",
			Help:      "DNS queries answered, by question type and response code.",
		}, []string{qtypeLabel, rcodeLabel}),
	}
	p.registry.MustRegister(
		p.syncTotal,
		p.syncDuration,
		p.lastSuccess,
		p.zoneHosts,
		p.zoneRecords,
		p.queries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) ObserveSync(duration time.Duration, err error) {
	p.syncDuration.Observe(duration.Seconds())
	if err != nil {
		p.syncTotal.With(prometheus.Labels{resultLabel: "error"}).Inc()
		return
	}
	p.syncTotal.With(prometheus.Labels{resultLabel: "success"}).Inc()
	p.lastSuccess.SetToCurrentTime()
}

func (p *Prometheus) UpdateZone(hosts, records int) {
	p.zoneHosts.Set(float64(hosts))
	p.zoneRecords.Set(float64(records))
}

func (p *Prometheus) ObserveQuery(qtype, rcode string) {
	p.queries.With(prometheus.Labels{qtypeLabel: qtype, rcodeLabel: rcode}).Inc()
}

// Registry returns the registry holding every collector.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Noop discards everything.
type Noop struct{}

func (Noop) ObserveSync(time.Duration, error) {}
func (Noop) UpdateZone(int, int)              {}
func (Noop) ObserveQuery(string, string)      {}
