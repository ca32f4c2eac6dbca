// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

// Package metrics provides Prometheus metrics collection and export.
//
// Metrics are exposed at the /metrics endpoint in Prometheus text format
// and cover scan progress, store operations, the upgrade pipeline, and
// external client health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scan metrics
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dovetail_scan_duration_seconds",
			Help:    "Duration of full library scans in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68m
		},
	)

	ScanItemsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dovetail_scan_items_processed_total",
			Help: "Total number of library items processed across all scans",
		},
	)

	ScanErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dovetail_scan_errors_total",
			Help: "Total number of scan errors",
		},
		[]string{"stage"}, // "list", "fetch", "parse", "store"
	)

	ScanInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dovetail_scan_in_progress",
			Help: "Whether a library scan is currently running (0 or 1)",
		},
	)

	LibraryMovies = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dovetail_library_movies",
			Help: "Number of library movies by capability bucket",
		},
		[]string{"bucket"}, // "total", "dv", "p7", "fel", "atmos"
	)

	// Store metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dovetail_db_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dovetail_db_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// Upgrade pipeline metrics
	TrackerPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dovetail_tracker_polls_total",
			Help: "Total number of tracker feed polls by outcome",
		},
		[]string{"outcome"}, // "ok", "error", "breaker_open"
	)

	TrackerReleasesSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dovetail_tracker_releases_seen_total",
			Help: "Total number of new release identifiers observed",
		},
	)

	UpgradesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dovetail_upgrades_classified_total",
			Help: "Total number of classified discoveries by verdict",
		},
		[]string{"verdict"}, // "upgrade", "no_upgrade", "filtered", "unparseable"
	)

	ApprovalsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dovetail_approvals_sent_total",
			Help: "Total number of approval dialogues sent to Telegram",
		},
	)

	ApprovalsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dovetail_approvals_resolved_total",
			Help: "Total number of approval dialogues resolved by outcome",
		},
		[]string{"outcome"}, // "approved", "declined", "expired"
	)

	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dovetail_qbittorrent_dispatches_total",
			Help: "Total number of qBittorrent dispatch attempts by outcome",
		},
		[]string{"outcome"}, // "ok", "error"
	)

	PendingDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dovetail_pending_downloads",
			Help: "Current number of approval dialogues awaiting a decision",
		},
	)

	// External client metrics
	ClientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dovetail_client_request_duration_seconds",
			Help:    "Duration of outbound client requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client"}, // "plex", "radarr", "qbittorrent", "telegram", "tracker"
	)

	ClientRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dovetail_client_request_errors_total",
			Help: "Total number of outbound client request failures",
		},
		[]string{"client", "kind"}, // kind: "transport", "protocol", "malformed"
	)

	TelegramMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dovetail_telegram_messages_sent_total",
			Help: "Total number of Telegram messages sent by kind",
		},
		[]string{"kind"}, // "approval", "digest", "edit"
	)

	// API metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dovetail_api_request_duration_seconds",
			Help:    "Duration of control-plane API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordDBQuery records the duration and outcome of a store query.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordClientRequest records the duration and outcome of an outbound
// client request. kind classifies the failure and is ignored on success.
func RecordClientRequest(client string, duration time.Duration, kind string) {
	ClientRequestDuration.WithLabelValues(client).Observe(duration.Seconds())
	if kind != "" {
		ClientRequestErrors.WithLabelValues(client, kind).Inc()
	}
}

// SetLibraryCounts updates the per-bucket library gauges after a scan.
func SetLibraryCounts(total, dv, p7, fel, atmos int) {
	LibraryMovies.WithLabelValues("total").Set(float64(total))
	LibraryMovies.WithLabelValues("dv").Set(float64(dv))
	LibraryMovies.WithLabelValues("p7").Set(float64(p7))
	LibraryMovies.WithLabelValues("fel").Set(float64(fel))
	LibraryMovies.WithLabelValues("atmos").Set(float64(atmos))
}
