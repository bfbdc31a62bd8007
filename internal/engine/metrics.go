package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/augur/internal/model"
)

// Metric label values.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultError    = "error"

	actionApplied = "applied"
	actionSkipped = "skipped"
	actionError   = "error"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augur_submissions_total",
			Help: "Total number of work submissions, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	passesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augur_reconcile_passes_total",
			Help: "Total number of reconciliation passes, by result.",
		},
		[]string{"result"},
	)

	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "augur_reconcile_pass_seconds",
			Help:    "Duration of a reconciliation pass, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	entriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augur_reconcile_entries_total",
			Help: "Total number of backend registry entries reconciled, by job state and action.",
		},
		[]string{"state", "action"},
	)

	refundedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "augur_refunded_credits_total",
			Help: "Total credits refunded to owners for failed work.",
		},
	)

	recoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "augur_recovered_work_items_total",
			Help: "Total in-flight work items failed because their backend job was lost.",
		},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(passesTotal)
	prometheus.MustRegister(passDuration)
	prometheus.MustRegister(entriesTotal)
	prometheus.MustRegister(refundedTotal)
	prometheus.MustRegister(recoveredTotal)

	for _, kind := range []string{model.KindAnalyze, model.KindForecast} {
		submissionsTotal.WithLabelValues(kind, resultOK)
		submissionsTotal.WithLabelValues(kind, resultRejected)
		submissionsTotal.WithLabelValues(kind, resultError)
	}
	passesTotal.WithLabelValues(resultOK)
	passesTotal.WithLabelValues(resultError)
}
