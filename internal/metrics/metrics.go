// Package metrics 定义进程内 Prometheus 指标，由 /metrics 暴露
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bq_ingest"

var (
	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_total",
		Help:      "Rate limiter reservations by key and result.",
	}, []string{"key", "result"})

	Deferrals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deferrals_total",
		Help:      "Trigger tasks re-enqueued into the delayed queue.",
	}, []string{"queue"})

	LoadJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "load_jobs_total",
		Help:      "Load job submissions by flow and outcome.",
	}, []string{"flow", "outcome"})

	BackupPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_polls_total",
		Help:      "Backup registry polls by result.",
	}, []string{"result"})

	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatches_total",
		Help:      "Queue entries dispatched by the worker, by queue and outcome.",
	}, []string{"queue", "outcome"})
)
