// Package metrics exposes Prometheus series for the worker, the pass chain,
// the remote generation client and the stitch stage.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/charswap/internal/job"
	"github.com/maauso/charswap/internal/pipeline"
)

const namespace = "charswap"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	units          *prometheus.CounterVec
	clips          *prometheus.CounterVec
	passes         *prometheus.CounterVec
	passDuration   prometheus.Histogram
	retries        *prometheus.CounterVec
	stitchDuration *prometheus.HistogramVec

	mu         sync.Mutex
	passStarts map[string]time.Time
	now        func() time.Time
}

// New registers the collectors. queueDepth is sampled on every scrape; a nil
// func omits the gauge.
func New(queueDepth func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Queued units by terminal status.",
		}, []string{"status"}),
		clips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_total",
			Help:      "Visited clips by final state.",
		}, []string{"state"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Finished passes by result.",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one pass, from asset resolution to retrieval.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_retries_total",
			Help:      "Retried calls to the compute service by stage.",
		}, []string{"stage"}),
		stitchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stitch_duration_seconds",
			Help:      "Duration of stitch runs by result.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"result"}),
		passStarts: make(map[string]time.Time),
		now:        time.Now,
	}

	m.registry.MustRegister(
		m.units,
		m.clips,
		m.passes,
		m.passDuration,
		m.retries,
		m.stitchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if queueDepth != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Units waiting in the queue.",
		}, func() float64 { return float64(queueDepth()) }))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// UnitFinished counts a unit that reached a terminal status.
func (m *Metrics) UnitFinished(status job.Status) {
	m.units.WithLabelValues(string(status)).Inc()
}

// RemoteRetry counts one retry against the compute service.
func (m *Metrics) RemoteRetry(stage string) {
	m.retries.WithLabelValues(stage).Inc()
}

// StitchFinished records the duration of one stitch run.
func (m *Metrics) StitchFinished(elapsed time.Duration, err error) {
	m.stitchDuration.WithLabelValues(result(err)).Observe(elapsed.Seconds())
}

// ClipStarted implements pipeline.Observer.
func (m *Metrics) ClipStarted(string, string) {}

// PassStarted implements pipeline.Observer.
func (m *Metrics) PassStarted(projectID, clipID string, passIndex int) {
	m.mu.Lock()
	m.passStarts[passKey(projectID, clipID)] = m.now()
	m.mu.Unlock()
}

// PassFinished implements pipeline.Observer.
func (m *Metrics) PassFinished(projectID, clipID string, passIndex int, err error) {
	m.passes.WithLabelValues(result(err)).Inc()

	key := passKey(projectID, clipID)
	m.mu.Lock()
	start, ok := m.passStarts[key]
	delete(m.passStarts, key)
	m.mu.Unlock()
	if ok {
		m.passDuration.Observe(m.now().Sub(start).Seconds())
	}
}

// ClipFinished implements pipeline.Observer.
func (m *Metrics) ClipFinished(_, _ string, state pipeline.ClipState) {
	m.clips.WithLabelValues(state.String()).Inc()
}

func passKey(projectID, clipID string) string {
	return projectID + "/" + clipID
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

var _ pipeline.Observer = (*Metrics)(nil)
