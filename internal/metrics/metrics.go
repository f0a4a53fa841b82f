// Package metrics exposes Prometheus collectors fed by registry events,
// dispatcher records and poller cycles.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/history"
	"kubeheal-backend/internal/ingest"
)

const namespace = "kubeheal"

type Metrics struct {
	registry *prometheus.Registry

	transitions         *prometheus.CounterVec
	remediations        *prometheus.CounterVec
	remediationDuration *prometheus.HistogramVec
	cycleDuration       prometheus.Histogram
	samples             prometheus.Counter
	skipped             prometheus.Counter
	candidates          prometheus.Counter
	pollErrors          prometheus.Counter
}

// New registers every collector on a fresh registry. open supplies the
// current open anomalies at scrape time.
func New(open func() []anomaly.Anomaly) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_events_total",
			Help:      "Anomaly lifecycle events by type and kind.",
		}, []string{"type", "kind"}),
		remediations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediations_total",
			Help:      "Recorded remediations by action and outcome.",
		}, []string{"action", "outcome"}),
		remediationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remediation_duration_seconds",
			Help:      "Time from remediation request to completion.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_cycle_duration_seconds",
			Help:      "Duration of one polling cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_samples_total",
			Help:      "Telemetry samples polled.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_skipped_samples_total",
			Help:      "Samples skipped as malformed or out of order.",
		}),
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_candidates_total",
			Help:      "Samples that matched a classification rule.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_poll_errors_total",
			Help:      "Polling cycles whose source returned an error.",
		}),
	}
	m.registry.MustRegister(
		m.transitions, m.remediations, m.remediationDuration,
		m.cycleDuration, m.samples, m.skipped, m.candidates, m.pollErrors,
		newOpenCollector(open),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnAnomalyEvent implements anomaly.Observer.
func (m *Metrics) OnAnomalyEvent(e anomaly.Event) {
	m.transitions.WithLabelValues(string(e.Type), string(e.Anomaly.Kind)).Inc()
}

// OnRecord is registered as a dispatcher hook.
func (m *Metrics) OnRecord(rec history.Record) {
	m.remediations.WithLabelValues(rec.ActionID, string(rec.Outcome)).Inc()
	m.remediationDuration.WithLabelValues(rec.ActionID).Observe(rec.CompletedAt.Sub(rec.RequestedAt).Seconds())
}

// OnCycle is registered as a poller hook.
func (m *Metrics) OnCycle(s ingest.CycleStats) {
	if s.Err != nil {
		m.pollErrors.Inc()
		return
	}
	m.cycleDuration.Observe(s.Duration.Seconds())
	m.samples.Add(float64(s.Samples))
	m.skipped.Add(float64(s.Skipped))
	m.candidates.Add(float64(s.Candidates))
}

type openCollector struct {
	open func() []anomaly.Anomaly
	desc *prometheus.Desc
}

func newOpenCollector(open func() []anomaly.Anomaly) *openCollector {
	return &openCollector{
		open: open,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "open_anomalies"),
			"Open anomalies by kind, severity and status.",
			[]string{"kind", "severity", "status"}, nil,
		),
	}
}

func (c *openCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *openCollector) Collect(ch chan<- prometheus.Metric) {
	if c.open == nil {
		return
	}
	type key struct {
		kind   anomaly.Kind
		sev    anomaly.Severity
		status anomaly.Status
	}
	counts := map[key]int{}
	for _, a := range c.open() {
		counts[key{a.Kind, a.Severity, a.Status}]++
	}
	for k, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(k.kind), k.sev.String(), string(k.status))
	}
}
