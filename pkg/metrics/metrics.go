// Package metrics holds the service counters. They land in the default
// registry, which the fiber prometheus middleware exposes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "plugnmeet_stt"

const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultNoop    = "noop"
)

var (
	ModelLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_loaded",
		Help:      "1 while a model is loaded.",
	})

	ModelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_loads_total",
		Help:      "Model load requests by result.",
	}, []string{"result"})

	ModelLoadSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "model_load_seconds",
		Help:      "Time spent loading models.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	Transcriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcriptions_total",
		Help:      "Transcription streams by outcome.",
	}, []string{"outcome"})

	TranscriptionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transcription_seconds",
		Help:      "Wall time of transcription streams.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	SegmentsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segments_emitted_total",
		Help:      "Segments streamed to clients.",
	})

	LogSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "log_stream_subscribers",
		Help:      "Connected log stream websocket clients.",
	})
)
