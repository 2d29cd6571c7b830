// Package metrics holds the Prometheus collectors shared by the API and the background loops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "newsletter"

var (
	IdempotencyAdmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "idempotency",
		Name:      "admissions_total",
		Help:      "Idempotent requests by admission outcome (first_writer or replay).",
	}, []string{"outcome"})

	IdempotencySwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "idempotency",
		Name:      "swept_total",
		Help:      "Idempotency records deleted by the expiry sweeper.",
	})

	IdempotencySweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "idempotency",
		Name:      "sweep_failures_total",
		Help:      "Sweeps that failed and were skipped until the next tick.",
	})

	OutboxEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "enqueued_total",
		Help:      "Delivery tasks written alongside published issues.",
	})

	DeliveryTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "tasks_total",
		Help:      "Delivery task executions by outcome (sent, retried, dead_lettered).",
	}, []string{"outcome"})
)

const (
	OutcomeFirstWriter  = "first_writer"
	OutcomeReplay       = "replay"
	OutcomeSent         = "sent"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)
