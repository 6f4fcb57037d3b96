package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	taskSuccess        = "success"
	taskErrorRun       = "error_generation"
	taskErrorStore     = "error_store"
	taskErrorPublish   = "error_publish"
	taskErrorUnmarshal = "error_unmarshal"
	taskRequeued       = "requeued"
)

// Metrics はワーカーのタスク処理に関するメトリクスです。
type Metrics struct {
	tasksProcessed *prometheus.CounterVec
	taskDuration   prometheus.Histogram
}

// NewMetrics は reg にワーカー用のメトリクスを登録します。
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tasksProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_tasks_processed_total",
				Help:      "Total number of pose generation tasks handled by the worker.",
			},
			[]string{"status"},
		),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_task_duration_seconds",
			Help:      "Duration of pose generation task handling, including storage and publishing.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
		}),
	}
}

func (m *Metrics) task(status string) {
	if m == nil {
		return
	}
	m.tasksProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) observe(seconds float64) {
	if m == nil {
		return
	}
	m.taskDuration.Observe(seconds)
}
