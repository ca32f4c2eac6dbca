// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/database"
	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
	"github.com/tomtom215/dovetail/internal/reports"
	"github.com/tomtom215/dovetail/internal/scanner"
)

// ScanControl triggers full scan cycles. Implemented by
// monitor.ScanRunner.
type ScanControl interface {
	RunScan(ctx context.Context, mode scanner.ReconcileMode) (*models.ScanSnapshot, error)
	Scanning() bool
}

// MonitorControl toggles the background monitor. Implemented by
// monitor.Monitor.
type MonitorControl interface {
	Start()
	Stop()
	Active() bool
	NextScan() time.Time
}

// ReportLister exposes generated reports. Implemented by
// reports.Writer.
type ReportLister interface {
	List() ([]reports.ReportFile, error)
}

// ConnectionTester validates one external service's reachability.
type ConnectionTester interface {
	TestConnection(ctx context.Context) error
}

// BreakerStatus reports the tracker circuit state. Implemented by
// tracker.Poller.
type BreakerStatus interface {
	BreakerState() string
}

// Router assembles the control plane. Optional dependencies (reports,
// breaker, testers) may be nil and their endpoints degrade gracefully.
type Router struct {
	db      *database.DB
	scans   ScanControl
	monitor MonitorControl
	reports ReportLister
	breaker BreakerStatus
	testers map[string]ConnectionTester
	cfg     config.ServerConfig
}

// NewRouter creates the control-plane router. testers is keyed by
// service name (plex, radarr, qbittorrent, telegram).
func NewRouter(db *database.DB, scans ScanControl, mon MonitorControl, rep ReportLister, breaker BreakerStatus, testers map[string]ConnectionTester, cfg config.ServerConfig) *Router {
	return &Router{
		db:      db,
		scans:   scans,
		monitor: mon,
		reports: rep,
		breaker: breaker,
		testers: testers,
		cfg:     cfg,
	}
}

// Handler builds the chi routing tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)

	r.Get("/healthz", rt.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if rt.cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(rt.cfg.RateLimit, time.Minute))
		}

		r.Get("/status", rt.handleStatus)
		r.Post("/scan", rt.handleScan)
		r.Post("/monitor", rt.handleMonitor)
		r.Get("/movies/{bucket}", rt.handleMovies)
		r.Get("/pending", rt.handlePending)
		r.Delete("/pending/{requestID}", rt.handleDeletePending)
		r.Get("/history", rt.handleHistory)
		r.Get("/policy", rt.handleGetPolicy)
		r.Put("/policy", rt.handlePutPolicy)
		r.Get("/reports", rt.handleReports)
		r.Post("/test/{service}", rt.handleTest)
	})

	return r
}

// requestMetrics records per-route request durations using the chi
// route pattern so path parameters do not explode the label space.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
