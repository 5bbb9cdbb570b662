package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SummaryRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydromet_summary_rows_written_total",
			Help: "Total summary rows written, by table",
		},
		[]string{"table"},
	)

	QCFlagsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydromet_qc_flags_written_total",
			Help: "Total persistence-QC flags written, by classification",
		},
		[]string{"classification"},
	)

	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydromet_tasks_processed_total",
			Help: "Total summary tasks processed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hydromet_task_duration_seconds",
			Help:    "Task batch processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	TasksPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hydromet_tasks_pending",
			Help: "Unstarted tasks in the queue, by kind",
		},
		[]string{"kind"},
	)
)
