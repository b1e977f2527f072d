package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "surrogate",
		Name:      "model_fit_duration_seconds",
		Help:      "Time spent fitting a model, hyperparameter search included.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"kernel"})

	fitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surrogate",
		Name:      "model_fits_total",
		Help:      "Model fits by outcome.",
	}, []string{"result"})

	trainingRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "surrogate",
		Name:      "model_training_rows",
		Help:      "Number of training rows per fit.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})

	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surrogate",
		Name:      "predictions_total",
		Help:      "Points predicted, by operation.",
	}, []string{"operation"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surrogate",
		Name:      "request_failures_total",
		Help:      "Failed operations by operation and error code.",
	}, []string{"operation", "code"})
)
