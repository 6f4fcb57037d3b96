// Package metrics は生成パイプラインの Prometheus メトリクスを提供します。
package metrics

import (
	"strconv"
	"time"

	"github.com/shouni/gemini-pose-kit/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"

	verdictAccepted = "accepted"
	verdictCollage  = "collage"
	verdictMismatch = "identity_mismatch"
)

// Recorder は generator.Recorder を実装し、実行イベントを Prometheus に記録します。
type Recorder struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	attemptsTotal    *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	validationsTotal *prometheus.CounterVec
	personConfidence prometheus.Histogram
}

// NewRecorder は reg に登録されたメトリクスを持つ Recorder を生成します。
func NewRecorder(namespace string, reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of generation runs, partitioned by result and failure reason.",
			},
			[]string{"result", "reason"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of generation runs.",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
			},
			[]string{"result"},
		),
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of recorded generation attempts.",
			},
			[]string{"used_pose_image", "error"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_stage_duration_seconds",
				Help:      "Duration of the last stage of each attempt.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"used_pose_image"},
		),
		validationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Total number of completed validations, partitioned by verdict.",
			},
			[]string{"verdict"},
		),
		personConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "person_match_confidence",
				Help:      "Identity confidence reported by the vision model.",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
	}
}

// ObserveAttempt は記録された試行を数えます。
func (r *Recorder) ObserveAttempt(attempt domain.GenerationAttempt, elapsed time.Duration) {
	usedPose := strconv.FormatBool(attempt.UsedPoseImage)
	errLabel := "none"
	if attempt.Err != nil {
		errLabel = string(*attempt.Err)
	}
	r.attemptsTotal.WithLabelValues(usedPose, errLabel).Inc()
	r.attemptDuration.WithLabelValues(usedPose).Observe(elapsed.Seconds())
}

// ObserveValidation は検証結果を判定ごとに数えます。
func (r *Recorder) ObserveValidation(result domain.ValidationResult, threshold float64) {
	if result.PersonMatch != nil {
		r.personConfidence.Observe(result.PersonMatch.Confidence)
	}
	switch {
	case result.Accepts(threshold):
		r.validationsTotal.WithLabelValues(verdictAccepted).Inc()
	case result.IsCollage:
		r.validationsTotal.WithLabelValues(verdictCollage).Inc()
	default:
		r.validationsTotal.WithLabelValues(verdictMismatch).Inc()
	}
}

// ObserveOutcome は実行結果を数えます。
func (r *Recorder) ObserveOutcome(outcome domain.GenerationOutcome, elapsed time.Duration) {
	result := resultSuccess
	if !outcome.Succeeded() {
		result = resultFailure
	}
	r.runsTotal.WithLabelValues(result, string(outcome.Reason)).Inc()
	r.runDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}
