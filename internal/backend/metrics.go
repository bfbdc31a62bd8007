package backend

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augur_backend_jobs_total",
			Help: "Total number of backend job state changes, by state entered.",
		},
		[]string{"state"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "augur_backend_queue_depth",
			Help: "Number of jobs waiting for a worker.",
		},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "augur_backend_job_seconds",
			Help:    "Work function run time from start to finish, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"func"},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(jobDuration)

	// Pre-initialize so every state appears in /metrics from startup.
	jobsTotal.WithLabelValues(string(StateQueued))
	for _, s := range Registries {
		jobsTotal.WithLabelValues(string(s))
	}
}
