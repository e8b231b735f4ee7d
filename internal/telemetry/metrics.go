/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DeparturesRegisteredTotal counts inserted departures by line and anchor kind.
	DeparturesRegisteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prancheta_departures_registered_total",
		Help: "Departures registered, by line and how the scheduled time was derived.",
	}, []string{"line", "anchor"})

	// DeparturesConfirmedTotal counts confirmation attempts by outcome.
	DeparturesConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prancheta_departures_confirmed_total",
		Help: "Departure confirmation attempts, by result.",
	}, []string{"result"})

	// SchedulerFallbacksTotal counts next-time computations that fell back to the fixed lead.
	SchedulerFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prancheta_scheduler_fallbacks_total",
		Help: "Next-time computations that fell back to the fixed lead because the store failed.",
	}, []string{"line"})

	// SchedulerErrorsTotal counts scheduler operation failures.
	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prancheta_scheduler_errors_total",
		Help: "Scheduler operation failures, by operation.",
	}, []string{"operation"})

	// RecalculationsTotal counts recalculation runs by scope ("line" or "global").
	RecalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prancheta_recalculations_total",
		Help: "Pending-queue recalculations, by kind.",
	}, []string{"kind"})

	// RecalculatedRecordsTotal counts rows rewritten by recalculations.
	RecalculatedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prancheta_recalculated_records_total",
		Help: "Pending departures rewritten by recalculation, by kind.",
	}, []string{"kind"})

	// RecalculationMismatchesTotal counts batch rows that updated zero records.
	RecalculationMismatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prancheta_recalculation_mismatches_total",
		Help: "Recalculation updates that affected no row.",
	})

	// LineIntervalMinutes exposes the current interval per line.
	LineIntervalMinutes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "prancheta_line_interval_minutes",
		Help: "Configured departure spacing per line.",
	}, []string{"line"})

	// SessionActive is 1 while a dispatch session is open.
	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prancheta_session_active",
		Help: "Whether a dispatch session is currently open.",
	})

	// DatabaseQueryDuration tracks gorm operation latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prancheta_database_query_duration_seconds",
		Help:    "Database operation duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prancheta_database_errors_total",
		Help: "Database operation errors.",
	}, []string{"operation", "error_type"})

	// DatabaseConnectionsActive reports open pool connections.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prancheta_database_connections_active",
		Help: "Open database connections.",
	})

	// APIRequestDuration tracks HTTP handler latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prancheta_api_request_duration_seconds",
		Help:    "HTTP request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prancheta_api_requests_total",
		Help: "HTTP requests served.",
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prancheta_api_active_connections",
		Help: "In-flight HTTP requests.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
