package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartflow"

// Recorder owns a private registry and the instruments written on the hot
// path. A nil *Recorder is a no-op.
type Recorder struct {
	registry    *prometheus.Registry
	factory     promauto.Factory
	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	signals     *prometheus.CounterVec
}

// New creates a recorder with Go runtime and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		factory:  factory,
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Remote tool calls by tool and result (hit, miss, error)",
			},
			[]string{"tool", "result"},
		),
		toolLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Latency of remote tool calls that reached the endpoint",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		signals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_ingested_total",
				Help:      "Signals offered to the log by outcome (logged, duplicate, recent)",
			},
			[]string{"outcome"},
		),
	}
}

// RecordToolCall counts one tool call.
func (r *Recorder) RecordToolCall(tool, result string) {
	if r == nil {
		return
	}
	r.toolCalls.WithLabelValues(tool, result).Inc()
}

// ObserveToolLatency records the duration of a call that hit the network.
func (r *Recorder) ObserveToolLatency(tool string, d time.Duration) {
	if r == nil {
		return
	}
	r.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordSignal counts one ingested signal.
func (r *Recorder) RecordSignal(outcome string) {
	if r == nil {
		return
	}
	r.signals.WithLabelValues(outcome).Inc()
}

// GaugeFunc exposes fn as a gauge read at scrape time.
func (r *Recorder) GaugeFunc(name, help string, fn func() float64) {
	if r == nil {
		return
	}
	r.factory.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn)
}

// CounterFunc exposes a monotonically increasing fn as a counter.
func (r *Recorder) CounterFunc(name, help string, fn func() float64) {
	if r == nil {
		return
	}
	r.factory.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, fn)
}

// Gatherer returns the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
