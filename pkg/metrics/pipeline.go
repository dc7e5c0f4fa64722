package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records per-class processing outcomes, scheduler alerts and backlog.
type PipelineMetrics struct {
	processed   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	idle        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	quarantined *prometheus.GaugeVec
	backlog     *prometheus.GaugeVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	m := &PipelineMetrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_items_processed_total",
			Help: "Items that reached a terminal state, by outcome.",
		}, []string{"class", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_item_process_seconds",
			Help:    "Wall time of a single claim-to-commit cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),
		idle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_claim_idle_total",
			Help: "Claims that found no eligible work.",
		}, []string{"class"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_item_failures_total",
			Help: "Item failures that rolled back, by error code.",
		}, []string{"class", "code"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_item_alerts_total",
			Help: "Items that crossed the repeated-failure threshold.",
		}, []string{"class"}),
		quarantined: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "media_items_quarantined",
			Help: "Items skipped by this worker after repeated failures.",
		}, []string{"class"}),
		backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "media_backlog_items",
			Help: "Eligible, unprocessed uploads per class.",
		}, []string{"class"}),
	}
	reg.MustRegister(m.processed, m.duration, m.idle, m.failures, m.alerts, m.quarantined, m.backlog)
	return m
}

func (m *PipelineMetrics) IncProcessed(class, outcome string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(class), normalizeLabel(outcome)).Inc()
}

func (m *PipelineMetrics) ObserveDuration(class string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(class)).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncIdle(class string) {
	if m == nil || m.idle == nil {
		return
	}
	m.idle.WithLabelValues(normalizeLabel(class)).Inc()
}

func (m *PipelineMetrics) IncFailure(class, code string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(class), normalizeLabel(code)).Inc()
}

// IncAlert counts an alert and bumps the quarantine gauge for the class.
func (m *PipelineMetrics) IncAlert(class string) {
	if m == nil || m.alerts == nil {
		return
	}
	m.alerts.WithLabelValues(normalizeLabel(class)).Inc()
	m.quarantined.WithLabelValues(normalizeLabel(class)).Inc()
}

func (m *PipelineMetrics) SetBacklog(class string, n int64) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.WithLabelValues(normalizeLabel(class)).Set(float64(n))
}
