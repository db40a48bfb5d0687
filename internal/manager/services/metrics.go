package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the queue, pipeline and retrieval
// engine. Each instance owns its registry so tests stay hermetic.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted  prometheus.Counter
	JobsRejected   *prometheus.CounterVec
	JobsFinished   *prometheus.CounterVec
	JobsInFlight   prometheus.Gauge
	Backlog        prometheus.Gauge
	StageDuration  *prometheus.HistogramVec
	StageRetries   *prometheus.CounterVec
	ChunksStored   prometheus.Counter
	AskTotal       *prometheus.CounterVec
	AskDuration    prometheus.Histogram
	CitationsGiven prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ike", Subsystem: "queue", Name: "jobs_submitted_total",
			Help: "Ingest jobs accepted by the queue.",
		}),
		JobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ike", Subsystem: "queue", Name: "jobs_rejected_total",
			Help: "Ingest submissions rejected, by reason.",
		}, []string{"reason"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ike", Subsystem: "queue", Name: "jobs_finished_total",
			Help: "Ingest jobs that reached a terminal status.",
		}, []string{"status"}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ike", Subsystem: "queue", Name: "jobs_in_flight",
			Help: "Jobs currently being processed by a worker.",
		}),
		Backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ike", Subsystem: "queue", Name: "backlog",
			Help: "Jobs waiting for a worker.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ike", Subsystem: "pipeline", Name: "stage_duration_seconds",
			Help:    "Duration of pipeline stages, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		StageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ike", Subsystem: "pipeline", Name: "stage_retries_total",
			Help: "Retried attempts per pipeline stage.",
		}, []string{"stage"}),
		ChunksStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ike", Subsystem: "pipeline", Name: "chunks_stored_total",
			Help: "Chunks persisted by completed jobs.",
		}),
		AskTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ike", Subsystem: "retrieval", Name: "ask_total",
			Help: "Ask requests, by outcome.",
		}, []string{"outcome"}),
		AskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ike", Subsystem: "retrieval", Name: "ask_duration_seconds",
			Help:    "End to end duration of ask requests.",
			Buckets: prometheus.DefBuckets,
		}),
		CitationsGiven: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ike", Subsystem: "retrieval", Name: "citations",
			Help:    "Citations attached to each answer.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}),
	}

	reg.MustRegister(
		m.JobsSubmitted, m.JobsRejected, m.JobsFinished, m.JobsInFlight, m.Backlog,
		m.StageDuration, m.StageRetries, m.ChunksStored,
		m.AskTotal, m.AskDuration, m.CitationsGiven,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
