// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Orders persisted in NEW state.",
	})

	OrdersRepublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_republished_total",
		Help: "Stale NEW orders re-published by the retry job.",
	})

	OrderPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_publish_failures_total",
		Help: "Order events that could not be written to the broker.",
	})

	SagaDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_decisions_total",
		Help: "Final order dispositions computed by the coordinator.",
	}, []string{"status", "source"})

	SagaJoinExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_join_expired_total",
		Help: "Leg outcomes dropped because the partner did not arrive within the join window.",
	})

	LegOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leg_outcomes_total",
		Help: "Reservation outcomes published by a leg.",
	}, []string{"leg", "status"})

	LegAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leg_anomalies_total",
		Help: "Events a leg could not act on and intentionally dropped.",
	}, []string{"leg", "reason"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dead_letters_total",
		Help: "Messages routed to a dead letter topic.",
	}, []string{"topic"})

	CatalogFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_fallback_total",
		Help: "Catalog existence checks answered by the configured fallback.",
	})
)
