// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/dovetail/internal/database"
	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/models"
	"github.com/tomtom215/dovetail/internal/scanner"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// connectionTestTimeout caps a single /api/test probe.
	connectionTestTimeout = 15 * time.Second
)

// statusPayload is the /api/status document.
type statusPayload struct {
	Scanning   bool                   `json:"scanning"`
	Monitoring bool                   `json:"monitoring"`
	NextScan   *time.Time             `json:"next_scan,omitempty"`
	Library    database.LibraryCounts `json:"library"`
	Pending    int                    `json:"pending"`
	LastScan   *models.ScanSnapshot   `json:"last_scan,omitempty"`
	Tracker    string                 `json:"tracker_breaker,omitempty"`
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := rt.db.CountMovies(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	pending, err := rt.db.CountPending(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	payload := statusPayload{
		Scanning:   rt.scans.Scanning(),
		Monitoring: rt.monitor.Active(),
		Library:    counts,
		Pending:    pending,
	}
	if next := rt.monitor.NextScan(); !next.IsZero() {
		payload.NextScan = &next
	}
	if snap, err := rt.db.LoadScanSnapshot(ctx); err == nil && snap != nil {
		payload.LastScan = snap
	}
	if rt.breaker != nil {
		payload.Tracker = rt.breaker.BreakerState()
	}

	writeJSON(w, http.StatusOK, payload)
}

type scanRequest struct {
	Mode string `json:"mode"`
}

// handleScan launches a scan in the background and answers 202. A scan
// already in flight answers 409; the caller watches /api/status for
// completion.
func (rt *Router) handleScan(w http.ResponseWriter, r *http.Request) {
	// An absent body means the default mode.
	var req scanRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	var mode scanner.ReconcileMode
	switch req.Mode {
	case "start", "":
		mode = scanner.ModeScan
	case "verify":
		mode = scanner.ModeVerify
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "mode must be \"start\" or \"verify\"")
		return
	}

	if rt.scans.Scanning() {
		writeError(w, http.StatusConflict, "scan_in_progress", "a scan is already running")
		return
	}

	go func() {
		if _, err := rt.scans.RunScan(context.Background(), mode); err != nil {
			logging.Error().Str("mode", string(mode)).Err(err).Msg("Requested scan failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"mode": string(mode)})
}

type monitorRequest struct {
	Action string `json:"action"`
}

func (rt *Router) handleMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	switch req.Action {
	case "start":
		rt.monitor.Start()
	case "stop":
		rt.monitor.Stop()
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "action must be \"start\" or \"stop\"")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"monitoring": rt.monitor.Active()})
}

func (rt *Router) handleMovies(w http.ResponseWriter, r *http.Request) {
	bucket := database.MovieBucket(chi.URLParam(r, "bucket"))

	movies, err := rt.db.ListMovies(r.Context(), bucket)
	if err != nil {
		if errors.Is(err, database.ErrUnknownBucket) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, movies)
}

func (rt *Router) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := rt.db.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// handleDeletePending discards an approval request outright, without
// recording a decision in the history.
func (rt *Router) handleDeletePending(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	if err := rt.db.DeletePending(r.Context(), requestID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such request: "+requestID)
			return
		}
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"request_id": requestID})
}

func (rt *Router) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	history, err := rt.db.ListHistory(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (rt *Router) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := rt.db.LoadPolicy(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (rt *Router) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	var policy models.UpgradePolicy
	if err := decodeBody(r, &policy); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if policy.NotifyExpireHours < 1 {
		writeError(w, http.StatusBadRequest, "bad_request", "notify_expire_hours must be at least 1")
		return
	}

	if err := rt.db.SavePolicy(r.Context(), policy); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (rt *Router) handleReports(w http.ResponseWriter, r *http.Request) {
	if rt.reports == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	files, err := rt.reports.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reports_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (rt *Router) handleTest(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	tester, ok := rt.testers[service]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_service", "no such service: "+service)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectionTestTimeout)
	defer cancel()

	if err := tester.TestConnection(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"service": service, "ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": service, "ok": true})
}

func (rt *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := rt.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
