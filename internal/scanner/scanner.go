// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

// Package scanner walks the configured Plex movie library, extracts
// Dolby Vision and Atmos capability records from stream metadata, and
// reconciles the curated collections against the scan results.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/dovetail/internal/clients"
	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/database"
	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
)

// ErrScanInProgress indicates a scan is already running; scans never
// overlap.
var ErrScanInProgress = errors.New("scan already in progress")

// ProgressFunc receives (processed, total) after every completed batch.
type ProgressFunc func(processed, total int)

// Scanner orchestrates batched library scans against Plex.
type Scanner struct {
	plex *PlexClient
	db   *database.DB
	cfg  config.PlexConfig

	progress ProgressFunc
	scanning atomic.Bool
}

// NewScanner creates a scanner. progress may be nil.
func NewScanner(plex *PlexClient, db *database.DB, cfg config.PlexConfig, progress ProgressFunc) *Scanner {
	return &Scanner{
		plex:     plex,
		db:       db,
		cfg:      cfg,
		progress: progress,
	}
}

// IsScanning reports whether a scan is currently running.
func (s *Scanner) IsScanning() bool {
	return s.scanning.Load()
}

// ScanLibrary performs a full library scan: list the section once, then
// fetch item metadata in batches under a bounded concurrency cap,
// upserting every extracted record. Per-item failures are logged and
// skipped; a batch where every fetch fails at the transport level aborts
// the scan with ErrPlexUnavailable. Cancellation is honoured between
// batches.
//
// The second return value is the set of rating keys present in the
// section listing. Stored records absent from it are reported in the
// snapshot's Removed list but stay in the store; the reconciler uses
// the same set to keep vanished items out of the collections.
func (s *Scanner) ScanLibrary(ctx context.Context) (*models.ScanSnapshot, map[string]struct{}, error) {
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, nil, ErrScanInProgress
	}
	defer s.scanning.Store(false)

	metrics.ScanInProgress.Set(1)
	defer metrics.ScanInProgress.Set(0)

	snap := &models.ScanSnapshot{StartedAt: time.Now().UTC()}
	scanStart := time.Now()

	sectionKey, err := s.plex.FindMovieSection(ctx, s.cfg.LibraryName)
	if err != nil {
		return nil, nil, s.asScanError("list", err)
	}

	items, err := s.plex.ListSectionItems(ctx, sectionKey)
	if err != nil {
		return nil, nil, s.asScanError("list", err)
	}
	total := len(items)

	logging.Info().
		Str("library", s.cfg.LibraryName).
		Int("items", total).
		Msg("Scan started")

	seen := make(map[string]struct{}, total)
	var (
		mu      sync.Mutex
		added   []string
		updated []string
		errs    int
	)

	processed := 0
	for start := 0; start < total; start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		end := start + s.cfg.BatchSize
		if end > total {
			end = total
		}
		batch := items[start:end]

		var transportFailures atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, item := range batch {
			item := item
			seen[item.RatingKey] = struct{}{}
			g.Go(func() error {
				rec, err := s.plex.FetchItemMetadata(gctx, item.RatingKey)
				if err != nil {
					var te *clients.TransportError
					if errors.As(err, &te) {
						transportFailures.Add(1)
					}
					metrics.ScanErrors.WithLabelValues("fetch").Inc()
					logging.Warn().
						Str("rating_key", item.RatingKey).
						Str("title", item.Title).
						Err(err).
						Msg("Item metadata fetch failed, skipping")
					mu.Lock()
					errs++
					mu.Unlock()
					return nil // per-item failures never abandon the batch
				}

				isNew := false
				if _, err := s.db.GetMovie(gctx, rec.RatingKey); errors.Is(err, database.ErrNotFound) {
					isNew = true
				}

				changed, err := s.db.UpsertCapability(gctx, rec)
				if err != nil {
					metrics.ScanErrors.WithLabelValues("store").Inc()
					return fmt.Errorf("upsert %s: %w", rec.RatingKey, err)
				}
				metrics.ScanItemsProcessed.Inc()

				if changed {
					mu.Lock()
					if isNew {
						added = append(added, rec.Title)
					} else {
						updated = append(updated, rec.Title)
					}
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}

		// Every fetch in the batch failing at the transport level means
		// Plex went away, not that individual items are broken.
		if int(transportFailures.Load()) == len(batch) && len(batch) > 0 {
			return nil, nil, fmt.Errorf("%w: all %d fetches in batch failed", ErrPlexUnavailable, len(batch))
		}

		processed += len(batch)
		if s.progress != nil {
			s.progress(processed, total)
		}
	}

	removed, err := s.db.MissingMovies(ctx, seen)
	if err != nil {
		return nil, nil, err
	}

	counts, err := s.db.CountMovies(ctx)
	if err != nil {
		return nil, nil, err
	}

	snap.FinishedAt = time.Now().UTC()
	snap.Total = counts.Total
	snap.DV = counts.DV
	snap.P7 = counts.P7
	snap.FEL = counts.FEL
	snap.Atmos = counts.Atmos
	snap.Added = added
	snap.Updated = updated
	snap.Removed = removed
	snap.Errors = errs

	if err := s.db.SaveScanSnapshot(ctx, snap); err != nil {
		return nil, nil, err
	}

	metrics.ScanDuration.Observe(time.Since(scanStart).Seconds())
	metrics.SetLibraryCounts(counts.Total, counts.DV, counts.P7, counts.FEL, counts.Atmos)

	logging.Info().
		Int("total", snap.Total).
		Int("dv", snap.DV).
		Int("fel", snap.FEL).
		Int("atmos", snap.Atmos).
		Int("added", len(added)).
		Int("updated", len(updated)).
		Int("removed", len(removed)).
		Int("errors", errs).
		Dur("duration", snap.Duration()).
		Msg("Scan finished")

	return snap, seen, nil
}

// asScanError wraps global listing failures: transport-level errors
// become ErrPlexUnavailable, everything else passes through.
func (s *Scanner) asScanError(stage string, err error) error {
	metrics.ScanErrors.WithLabelValues(stage).Inc()
	var te *clients.TransportError
	if errors.As(err, &te) {
		return fmt.Errorf("%w: %v", ErrPlexUnavailable, err)
	}
	return err
}
