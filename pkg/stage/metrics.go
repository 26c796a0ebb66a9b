package stage

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	bgmetrics "github.com/fluxcd/ecs-bluegreen/pkg/metrics"
)

var (
	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "bluegreen",
		Subsystem: "stage",
		Name:      "duration_seconds",
		Help:      "Stage duration in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{bgmetrics.LabelStage, bgmetrics.LabelSuccess})
	pollIterations = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "bluegreen",
		Subsystem: "stage",
		Name:      "poll_iterations_total",
		Help:      "Count of health polls made while waiting on a task set.",
	}, []string{bgmetrics.LabelStage})
	rollbacks = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "bluegreen",
		Subsystem: "stage",
		Name:      "rollbacks_total",
		Help:      "Count of provisioning rollbacks, by whether they completed.",
	}, []string{bgmetrics.LabelSuccess})
)
