package pipeline

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	bgmetrics "github.com/fluxcd/ecs-bluegreen/pkg/metrics"
)

var (
	// A job runs at most one stage, apart from the approval that lets
	// it through a gate; provisioning dominates.
	jobDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "bluegreen",
		Subsystem: "pipeline",
		Name:      "job_duration_seconds",
		Help:      "Duration of job execution, in seconds.",
		Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{bgmetrics.LabelSuccess})

	queueDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "bluegreen",
		Subsystem: "pipeline",
		Name:      "queue_duration_seconds",
		Help:      "Duration of time spent in the job queue before execution, in seconds.",
		Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{})

	queueLength = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "bluegreen",
		Subsystem: "pipeline",
		Name:      "queue_length_count",
		Help:      "Count of jobs waiting in the queue to be run.",
	}, []string{})

	runOutcomes = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "bluegreen",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Count of runs reaching a terminal phase, by phase.",
	}, []string{bgmetrics.LabelOutcome})

	gateDecisions = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "bluegreen",
		Subsystem: "pipeline",
		Name:      "gate_decisions_total",
		Help:      "Count of approval decisions, by gate and decision.",
	}, []string{bgmetrics.LabelGate, bgmetrics.LabelOutcome})
)
