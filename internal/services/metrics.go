package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("logsentinel.services")

var (
	processingRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logsentinel",
		Name:      "processing_runs_total",
		Help:      "Processing runs by freshness state and outcome",
	}, []string{"state", "outcome"})

	processingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "logsentinel",
		Name:      "processing_duration_seconds",
		Help:      "Duration of a processing run",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"state"})

	embeddingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logsentinel",
		Name:      "embeddings_total",
		Help:      "Embedding jobs by outcome",
	}, []string{"outcome"})

	predictionRiskTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logsentinel",
		Name:      "prediction_risk_total",
		Help:      "Served predictions by risk level and source",
	}, []string{"level", "source"})

	metricTargetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logsentinel",
		Name:      "metric_targets_total",
		Help:      "Metric targets collected by outcome",
	}, []string{"outcome"})

	metricSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "logsentinel",
		Name:      "metric_snapshots_total",
		Help:      "Metric snapshots appended to the store",
	})
)
