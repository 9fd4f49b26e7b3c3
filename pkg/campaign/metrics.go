package campaign

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a campaign run.
type Metrics struct {
	registry *prometheus.Registry

	// Dial metrics
	DialsTotal *prometheus.CounterVec

	// Call metrics
	CallsActive  prometheus.Gauge
	CallDuration *prometheus.HistogramVec
	TurnsTotal   prometheus.Counter

	// Cost metrics
	CostUSDTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "campaign"
	}

	registry := prometheus.NewRegistry()

	dialsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dials_total",
			Help:      "Total number of dial attempts",
		},
		[]string{"outcome"},
	)

	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently in progress",
		},
	)

	callDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	turnsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total conversation turns across all calls",
		},
	)

	costUSDTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Total cost in USD",
		},
		[]string{"component"},
	)

	registry.MustRegister(
		dialsTotal,
		callsActive,
		callDuration,
		turnsTotal,
		costUSDTotal,
	)

	return &Metrics{
		registry:     registry,
		DialsTotal:   dialsTotal,
		CallsActive:  callsActive,
		CallDuration: callDuration,
		TurnsTotal:   turnsTotal,
		CostUSDTotal: costUSDTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDial records one dial attempt outcome.
func (m *Metrics) RecordDial(outcome string) {
	m.DialsTotal.WithLabelValues(outcome).Inc()
}

// RecordCallStart records an answered call entering conversation.
func (m *Metrics) RecordCallStart() {
	m.CallsActive.Inc()
}

// RecordCallEnd records a finished call.
func (m *Metrics) RecordCallEnd(outcome string, duration time.Duration, turns int) {
	m.CallsActive.Dec()
	m.CallDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if turns > 0 {
		m.TurnsTotal.Add(float64(turns))
	}
}

// RecordCost records per-component call cost.
func (m *Metrics) RecordCost(llm, stt, tts float64) {
	if llm > 0 {
		m.CostUSDTotal.WithLabelValues("llm").Add(llm)
	}
	if stt > 0 {
		m.CostUSDTotal.WithLabelValues("stt").Add(stt)
	}
	if tts > 0 {
		m.CostUSDTotal.WithLabelValues("tts").Add(tts)
	}
}
