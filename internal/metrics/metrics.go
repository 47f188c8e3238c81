// Package metrics holds the Prometheus collectors of the memory stack.
//
// Every recording method is safe on a nil *Metrics, so components built
// without metrics need no guards.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeDenied  = "denied"
)

// Metrics are the collectors shared by areas, segments and allocators.
type Metrics struct {
	PageFaults      prometheus.Counter
	SwapOuts        prometheus.Counter
	WriteBacks      prometheus.Counter
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Allocations     prometheus.Counter
	Frees           prometheus.Counter
	LiveBuffers     prometheus.Gauge
	Degradations    *prometheus.CounterVec
}

// New creates the collectors and registers them with r. A nil r leaves them
// unregistered.
func New(r prometheus.Registerer) *Metrics {
	return &Metrics{
		PageFaults: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "vm_page_faults_total",
			Help: "Total number of stored pages swapped in on access.",
		}),
		SwapOuts: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "vm_swap_outs_total",
			Help: "Total number of resident pages evicted to the backing store.",
		}),
		WriteBacks: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "vm_write_backs_total",
			Help: "Total number of dirty pages written to the backing store.",
		}),
		Requests: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "vm_requests_total",
			Help: "Total number of memory requests handled by segments.",
		}, []string{"kind", "outcome"}),
		RequestDuration: promauto.With(r).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vm_request_duration_seconds",
			Help:    "Time from submitting a memory request to its response.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"kind"}),
		Allocations: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "vm_allocations_total",
			Help: "Total number of buffers allocated.",
		}),
		Frees: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "vm_frees_total",
			Help: "Total number of buffers freed.",
		}),
		LiveBuffers: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "vm_live_buffers",
			Help: "Number of buffers currently allocated.",
		}),
		Degradations: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "vm_best_effort_degradations_total",
			Help: "Total number of buffer reads or writes that failed and degraded.",
		}, []string{"op"}),
	}
}

func (m *Metrics) PageFault() {
	if m != nil {
		m.PageFaults.Inc()
	}
}

func (m *Metrics) SwapOut() {
	if m != nil {
		m.SwapOuts.Inc()
	}
}

func (m *Metrics) WriteBack() {
	if m != nil {
		m.WriteBacks.Inc()
	}
}

// Request records one handled request of kind.
func (m *Metrics) Request(kind, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(kind, outcome).Inc()
	m.RequestDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) Allocated() {
	if m != nil {
		m.Allocations.Inc()
		m.LiveBuffers.Inc()
	}
}

func (m *Metrics) Freed() {
	if m != nil {
		m.Frees.Inc()
		m.LiveBuffers.Dec()
	}
}

// Degraded records a best-effort fallback for op ("get" or "set").
func (m *Metrics) Degraded(op string) {
	if m != nil {
		m.Degradations.WithLabelValues(op).Inc()
	}
}
