package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch kinds.
const (
	KindFull  = "full"
	KindDelta = "delta"
)

// Poll collects watcher metrics. A nil *Poll records nothing.
type Poll struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	records       *prometheus.CounterVec
	duplicates    *prometheus.CounterVec
	lastKnown     *prometheus.GaugeVec
	accumulated   *prometheus.GaugeVec
}

// NewPoll registers the watcher collectors on a fresh registry.
func NewPoll() *Poll {
	p := &Poll{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "watcher_fetch_total", Help: "Log fetches by kind and status"},
			[]string{"watcher", "kind", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "watcher_fetch_duration_seconds", Help: "Log fetch latency", Buckets: prometheus.DefBuckets},
			[]string{"watcher", "kind"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "watcher_records_merged_total", Help: "New records merged into the poll state"},
			[]string{"watcher"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "watcher_records_duplicate_total", Help: "Fetched records dropped as already seen"},
			[]string{"watcher"},
		),
		lastKnown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "watcher_last_known_block", Help: "Upper bound of the last successful fetch"},
			[]string{"watcher"},
		),
		accumulated: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "watcher_records", Help: "Records currently held in the poll state"},
			[]string{"watcher"},
		),
	}
	p.registry.MustRegister(p.fetches, p.fetchDuration, p.records, p.duplicates, p.lastKnown, p.accumulated)
	return p
}

// Registry returns the registry holding the collectors.
func (p *Poll) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Poll) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one fetch attempt.
func (p *Poll) ObserveFetch(watcher, kind string, took time.Duration, err error) {
	if p == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.fetches.WithLabelValues(watcher, kind, status).Inc()
	p.fetchDuration.WithLabelValues(watcher, kind).Observe(took.Seconds())
}

// ObserveMerge records the outcome of merging fetched records.
func (p *Poll) ObserveMerge(watcher string, added, dropped, total int, lastKnownBlock uint64) {
	if p == nil {
		return
	}
	p.records.WithLabelValues(watcher).Add(float64(added))
	p.duplicates.WithLabelValues(watcher).Add(float64(dropped))
	p.accumulated.WithLabelValues(watcher).Set(float64(total))
	p.lastKnown.WithLabelValues(watcher).Set(float64(lastKnownBlock))
}
