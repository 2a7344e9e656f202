package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// JobsSubmitted counts accepted jobs by kind
var JobsSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "amlwatch_jobs_submitted_total",
		Help: "Total number of analysis jobs accepted",
	},
	[]string{"kind"},
)

// JobsFinished counts jobs reaching a terminal state by kind and status
var JobsFinished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "amlwatch_jobs_finished_total",
		Help: "Total number of analysis jobs that reached a terminal state",
	},
	[]string{"kind", "status"},
)

// JobDuration records time spent running a job
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "amlwatch_job_duration_seconds",
		Help:    "Time in seconds from RUNNING to a terminal state",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// JobsExpired counts stale RUNNING and PENDING jobs failed by the orphan sweep
var JobsExpired = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "amlwatch_jobs_expired_total",
		Help: "Stale jobs marked FAILED after exceeding their TTL",
	},
)

// AlertsRecorded counts alert sink outcomes by type and outcome (inserted/skipped)
var AlertsRecorded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "amlwatch_alerts_recorded_total",
		Help: "Alert sink outcomes",
	},
	[]string{"type", "outcome"},
)

// ScorerAvailable is 1 when model artifacts were loaded, 0 when scoring fails open
var ScorerAvailable = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "amlwatch_scorer_available",
		Help: "Whether anomaly model artifacts are loaded",
	},
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amlwatch_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amlwatch_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amlwatch_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(JobsSubmitted, JobsFinished, JobDuration, JobsExpired)
	prometheus.MustRegister(AlertsRecorded, ScorerAvailable)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
