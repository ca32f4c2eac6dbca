// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

/*
monitor.go - Scheduler/Monitor Loop

Single long-lived loop ticking at the configured interval (60s default).
Each tick, when monitoring is active:

  - sweep overdue approval dialogues
  - close out dispatched downloads whose torrent has finished
  - trigger a scheduled full scan when one is due
  - poll the tracker feed and run new releases through the coordinator

Scans and tracker polls are mutually exclusive: a poll attempted while a
scan runs is queued once and coalesced onto the next free tick. Stopping
monitoring idles the loop without tearing the service down; the suture
supervisor owns the lifecycle.

Related files:
  - scanrunner.go: shared scan + reconcile + digest execution, also used
    by the control plane's manual triggers
*/

//nolint:staticcheck // File documentation, not package doc
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/downloads"
	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/models"
	"github.com/tomtom215/dovetail/internal/scanner"
)

// ReleaseSource yields never-seen tracker releases. MarkDelivered is
// called only after the whole batch went through the pipeline, so a
// crash in between re-delivers on the next poll. Implemented by
// tracker.Poller; nil disables polling.
type ReleaseSource interface {
	Poll(ctx context.Context) ([]models.Release, error)
	MarkDelivered(releases []models.Release) error
}

// DigestNotifier posts summary messages. Implemented by
// telegram.Notifier; nil disables digests.
type DigestNotifier interface {
	SendDigest(ctx context.Context, text string) error
}

// ScanTrigger runs full scan cycles. Implemented by ScanRunner.
type ScanTrigger interface {
	RunScan(ctx context.Context, mode scanner.ReconcileMode) (*models.ScanSnapshot, error)
	Scanning() bool
}

// DiscoveryPipeline consumes releases, sweeps overdue approvals, and
// tracks torrent completion. Implemented by downloads.Coordinator.
type DiscoveryPipeline interface {
	ProcessDiscovery(ctx context.Context, release models.Release) downloads.Outcome
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	CheckCompletions(ctx context.Context) (int, error)
}

// Monitor is the background scheduler. It implements suture.Service.
type Monitor struct {
	runner  ScanTrigger
	tracker ReleaseSource
	coord   DiscoveryPipeline
	cfg     config.MonitorConfig

	trackerInterval time.Duration

	active     atomic.Bool
	pollQueued atomic.Bool

	// nextScan and nextPoll are only touched from Serve.
	nextScan time.Time
	nextPoll time.Time

	// nextScanUnix mirrors nextScan for the status snapshot.
	nextScanUnix atomic.Int64
}

// New creates the monitor. tracker may be nil when the feed is disabled.
func New(runner ScanTrigger, trk ReleaseSource, coord DiscoveryPipeline, cfg config.MonitorConfig, trackerInterval time.Duration) *Monitor {
	m := &Monitor{
		runner:          runner,
		tracker:         trk,
		coord:           coord,
		cfg:             cfg,
		trackerInterval: trackerInterval,
	}
	m.active.Store(cfg.Enabled)
	return m
}

// Start enables monitoring; the next tick resumes work.
func (m *Monitor) Start() { m.active.Store(true) }

// Stop idles the loop. In-flight work finishes naturally.
func (m *Monitor) Stop() { m.active.Store(false) }

// Active reports whether monitoring is running.
func (m *Monitor) Active() bool { return m.active.Load() }

// NextScan returns the next scheduled scan time, zero when scheduled
// scans are disabled.
func (m *Monitor) NextScan() time.Time {
	unix := m.nextScanUnix.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// Serve implements suture.Service: tick, do due work, repeat until the
// context ends. A stopped monitor keeps ticking idly so Start takes
// effect within one interval.
func (m *Monitor) Serve(ctx context.Context) error {
	interval := m.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	now := time.Now()
	if m.cfg.ScanInterval > 0 {
		m.scheduleNextScan(now)
	}
	m.nextPoll = now // first active tick polls immediately

	logging.Info().
		Dur("interval", interval).
		Dur("scan_interval", m.cfg.ScanInterval).
		Dur("tracker_interval", m.trackerInterval).
		Bool("active", m.Active()).
		Msg("Monitor loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !m.active.Load() {
			continue
		}
		m.tick(ctx)
	}
}

// tick runs one round of due work.
func (m *Monitor) tick(ctx context.Context) {
	now := time.Now()

	if _, err := m.coord.SweepExpired(ctx, now.UTC()); err != nil {
		logging.Error().Err(err).Msg("Expiry sweep failed")
	}
	if _, err := m.coord.CheckCompletions(ctx); err != nil {
		logging.Error().Err(err).Msg("Completion check failed")
	}

	if m.cfg.ScanInterval > 0 && !now.Before(m.nextScan) {
		if _, err := m.runner.RunScan(ctx, scanner.ModeScan); err != nil {
			logging.Error().Err(err).Msg("Scheduled scan failed")
		}
		// Advance only after completion so a long scan never stacks
		// another behind it.
		m.scheduleNextScan(time.Now())
	}

	if m.tracker == nil || m.trackerInterval <= 0 {
		return
	}
	due := !now.Before(m.nextPoll) || m.pollQueued.Load()
	if !due {
		return
	}
	if m.runner.Scanning() {
		// Coalesce: at most one poll waits out a scan.
		m.pollQueued.Store(true)
		return
	}
	m.pollQueued.Store(false)
	m.nextPoll = now.Add(m.trackerInterval)
	m.pollTracker(ctx)
}

// pollTracker pulls the feed diff, runs each new release through the
// coordinator, and marks the batch delivered afterwards. A shutdown
// mid-batch leaves the identifiers unmarked for the next poll.
func (m *Monitor) pollTracker(ctx context.Context) {
	releases, err := m.tracker.Poll(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Tracker poll failed")
		return
	}

	for _, release := range releases {
		if ctx.Err() != nil {
			return
		}
		outcome := m.coord.ProcessDiscovery(ctx, release)
		event := logging.Debug()
		if outcome.Kind == downloads.OutcomeError {
			event = logging.Warn()
		}
		event.
			Str("release", release.Title).
			Str("outcome", string(outcome.Kind)).
			Str("reason", outcome.Reason).
			Str("request_id", outcome.RequestID).
			Msg("Discovery processed")
	}

	if err := m.tracker.MarkDelivered(releases); err != nil {
		logging.Warn().Err(err).Msg("Release dedupe mark failed")
	}
}

func (m *Monitor) scheduleNextScan(from time.Time) {
	m.nextScan = from.Add(m.cfg.ScanInterval)
	m.nextScanUnix.Store(m.nextScan.Unix())
}
