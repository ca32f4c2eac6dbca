// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package monitor

import (
	"context"

	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/models"
	"github.com/tomtom215/dovetail/internal/scanner"
	"github.com/tomtom215/dovetail/internal/telegram"
)

// ReportWriter dumps a scan's results to disk. Implemented by
// reports.Writer; nil disables report generation.
type ReportWriter interface {
	Generate(ctx context.Context, snap *models.ScanSnapshot) error
}

// ScanRunner executes a full scan cycle: library scan, collection
// reconciliation, report dump, digest. Shared between the monitor's
// scheduled scans and the control plane's manual triggers.
type ScanRunner struct {
	scanner    *scanner.Scanner
	reconciler *scanner.Reconciler
	reports    ReportWriter
	digest     DigestNotifier
}

// NewScanRunner wires the scan cycle. reports and digest may be nil.
func NewScanRunner(sc *scanner.Scanner, rec *scanner.Reconciler, reports ReportWriter, digest DigestNotifier) *ScanRunner {
	return &ScanRunner{
		scanner:    sc,
		reconciler: rec,
		reports:    reports,
		digest:     digest,
	}
}

// Scanning reports whether a scan is currently running.
func (r *ScanRunner) Scanning() bool {
	return r.scanner.IsScanning()
}

// RunScan executes one full cycle in the given reconcile mode. The scan
// error is the only fatal one; reconciliation, reports, and digests are
// best-effort and logged.
func (r *ScanRunner) RunScan(ctx context.Context, mode scanner.ReconcileMode) (*models.ScanSnapshot, error) {
	snap, present, err := r.scanner.ScanLibrary(ctx)
	if err != nil {
		return nil, err
	}

	results, err := r.reconciler.Reconcile(ctx, mode, present)
	if err != nil {
		logging.Error().Err(err).Msg("Collection reconciliation failed")
	}

	if r.reports != nil {
		if err := r.reports.Generate(ctx, snap); err != nil {
			logging.Error().Err(err).Msg("Report generation failed")
		}
	}

	if r.digest != nil {
		r.sendDigests(ctx, snap, results)
	}
	return snap, nil
}

func (r *ScanRunner) sendDigests(ctx context.Context, snap *models.ScanSnapshot, results []scanner.CollectionResult) {
	if err := r.digest.SendDigest(ctx, telegram.FormatScanDigest(snap)); err != nil {
		logging.Warn().Err(err).Msg("Scan digest send failed")
	}

	changes := make([]telegram.CollectionChange, 0, len(results))
	for _, res := range results {
		changes = append(changes, telegram.CollectionChange{
			Collection: res.Collection,
			Created:    res.Created,
			Added:      len(res.Added),
			Removed:    len(res.Removed),
		})
	}
	if err := r.digest.SendDigest(ctx, telegram.FormatCollectionDigest(changes)); err != nil {
		logging.Warn().Err(err).Msg("Collection digest send failed")
	}
}
