// Package metrics holds the prometheus collectors shared by the worker and CLI.
// A nil *Metrics is valid and records nothing, which keeps unit tests free of registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors for retries, reconciliation, distribution cleanup and pipeline jobs.
type Metrics struct {
	RetryAttempts        *prometheus.CounterVec
	RetryExhausted       *prometheus.CounterVec
	ReconcileOwners      *prometheus.CounterVec
	DistributionsDeleted prometheus.Counter
	DistributionFailures prometheus.Counter
	DeletionsDispatched  prometheus.Counter
	Jobs                 *prometheus.CounterVec
	Triggers             *prometheus.CounterVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dappbot_retry_attempts_total",
			Help: "Retried remote calls by operation",
		}, []string{"operation"}),
		RetryExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dappbot_retry_exhausted_total",
			Help: "Remote calls that failed after the retry budget or with a permanent error",
		}, []string{"operation"}),
		ReconcileOwners: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dappbot_reconcile_owners_total",
			Help: "Lapsed owners processed by reconciliation outcome",
		}, []string{"outcome"}),
		DistributionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dappbot_distributions_deleted_total",
			Help: "Orphaned CDN distributions deleted",
		}),
		DistributionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dappbot_distribution_delete_failures_total",
			Help: "CDN distribution deletions that failed",
		}),
		DeletionsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dappbot_deletions_dispatched_total",
			Help: "Dapp deletion messages enqueued",
		}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dappbot_pipeline_jobs_total",
			Help: "Pipeline jobs by type and result",
		}, []string{"type", "result"}),
		Triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dappbot_triggers_total",
			Help: "Inbound triggers by kind",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RetryAttempts,
			m.RetryExhausted,
			m.ReconcileOwners,
			m.DistributionsDeleted,
			m.DistributionFailures,
			m.DeletionsDispatched,
			m.Jobs,
			m.Triggers,
		)
	}
	return m
}

func (m *Metrics) Retried(op string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(op).Inc()
}

func (m *Metrics) Exhausted(op string) {
	if m == nil {
		return
	}
	m.RetryExhausted.WithLabelValues(op).Inc()
}

func (m *Metrics) OwnerReconciled(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileOwners.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DistributionDeleted() {
	if m == nil {
		return
	}
	m.DistributionsDeleted.Inc()
}

func (m *Metrics) DistributionFailed() {
	if m == nil {
		return
	}
	m.DistributionFailures.Inc()
}

func (m *Metrics) DeletionDispatched() {
	if m == nil {
		return
	}
	m.DeletionsDispatched.Inc()
}

func (m *Metrics) JobFinished(jobType, result string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(jobType, result).Inc()
}

func (m *Metrics) Trigger(kind string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(kind).Inc()
}
