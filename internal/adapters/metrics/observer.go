// Package metrics exports engine outcomes as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/core/ports"
)

const namespace = "mend"

// Observer implements ports.SignalObserver.
type Observer struct {
	AudioChunks       *prometheus.CounterVec
	EatingConfidence  prometheus.Histogram
	Reflections       *prometheus.CounterVec
	FeedbackDecisions *prometheus.CounterVec
	JobsDropped       prometheus.Counter
}

var _ ports.SignalObserver = (*Observer)(nil)

// NewObserver registers the collectors with reg.
func NewObserver(reg prometheus.Registerer) *Observer {
	factory := promauto.With(reg)
	return &Observer{
		AudioChunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_chunks_total",
				Help:      "Audio chunks analyzed, by eating detection outcome",
			},
			[]string{"detected"},
		),
		EatingConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "eating_confidence",
				Help:      "Eating detection confidence per analyzed chunk",
				Buckets:   []float64{0, .2, .3, .4, .5, .6, .7, .8, .9, 1},
			},
		),
		Reflections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reflections_total",
				Help:      "Transcripts sent to tone classification, by sentiment and outcome",
			},
			[]string{"sentiment", "reflective"},
		),
		FeedbackDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feedback_decisions_total",
				Help:      "Feedback decisions by type, reason and delivery",
			},
			[]string{"type", "reason", "delivered"},
		),
		JobsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_jobs_dropped_total",
				Help:      "Audio jobs rejected because the worker queue was full",
			},
		),
	}
}

func (o *Observer) EatingAnalyzed(result domain.EatingAnalysisResult) {
	o.AudioChunks.WithLabelValues(strconv.FormatBool(result.EatingDetected)).Inc()
	o.EatingConfidence.Observe(result.Confidence)
}

func (o *Observer) ReflectionAnalyzed(analysis domain.ReflectionAnalysis) {
	o.Reflections.WithLabelValues(string(analysis.Sentiment), strconv.FormatBool(analysis.IsReflective)).Inc()
}

func (o *Observer) FeedbackDecided(decision domain.FeedbackDecision, delivered bool) {
	ft := string(decision.Type)
	if ft == "" {
		ft = "none"
	}
	o.FeedbackDecisions.WithLabelValues(ft, decision.Reason, strconv.FormatBool(delivered)).Inc()
}

func (o *Observer) JobDropped() {
	o.JobsDropped.Inc()
}
