// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

/*
coordinator.go - Download Coordinator

This file drives the tracker-discovery → approval → dispatch workflow:

  1. Parse the release title into a capability sketch.
  2. Look the movie up in the capability store (year-exact preferred).
  3. Classify the candidate against the owned copy under the policy.
  4. Resolve the on-disk folder through Radarr.
  5. Persist a pending approval and post the Telegram prompt.
  6. On approval, dispatch to qBittorrent; on decline or expiry, close
     the dialogue.

The store serialises every request-id transition, which makes approval
handling idempotent: a replayed callback observes ErrInvalidTransition
and reports the current state instead of dispatching twice.

Related files:
  - sweep.go: expiry sweep over overdue approvals
  - completions.go: hash-first completion tracking for dispatched
    downloads
*/

//nolint:staticcheck // File documentation, not package doc
package downloads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/dovetail/internal/clients"
	"github.com/tomtom215/dovetail/internal/database"
	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
	"github.com/tomtom215/dovetail/internal/upgrade"
)

// ErrNoRadarr indicates discoveries cannot be dispatched because no
// Radarr instance is configured to resolve target folders.
var ErrNoRadarr = errors.New("radarr not configured")

// FolderResolver resolves a movie's on-disk folder. Implemented by
// clients.RadarrClient.
type FolderResolver interface {
	MovieFolder(ctx context.Context, title string, year *int) (string, error)
}

// TorrentDispatcher adds torrents to the download client and reports on
// their progress. Implemented by clients.QBittorrentClient.
type TorrentDispatcher interface {
	AddTorrent(ctx context.Context, torrentURL, savePath string, qt models.QualityType) error
	Torrents(ctx context.Context, qt models.QualityType) ([]clients.TorrentInfo, error)
}

// ApprovalNotifier is the chat surface the coordinator talks to.
// Implemented by telegram.Notifier.
type ApprovalNotifier interface {
	SendApproval(ctx context.Context, req *models.DownloadRequest) (int64, error)
	EditResolved(ctx context.Context, messageID int64, p *models.PendingDownload) error
	SendNotice(ctx context.Context, text string) error
}

// OutcomeKind tags what a discovery produced.
type OutcomeKind string

// Discovery outcomes. Skip is the common case; Error means the pipeline
// could not run to completion, not that the release was rejected.
const (
	OutcomeSkip    OutcomeKind = "skip"
	OutcomePending OutcomeKind = "pending"
	OutcomeError   OutcomeKind = "error"
)

// Outcome reports how one tracker discovery was handled.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Reason    string      `json:"reason,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func skip(reason string) Outcome   { return Outcome{Kind: OutcomeSkip, Reason: reason} }
func failed(reason string) Outcome { return Outcome{Kind: OutcomeError, Reason: reason} }

func pending(requestID string) Outcome {
	return Outcome{Kind: OutcomePending, RequestID: requestID}
}

// Coordinator runs the download-decision pipeline.
type Coordinator struct {
	db       *database.DB
	radarr   FolderResolver
	qbt      TorrentDispatcher
	notifier ApprovalNotifier

	// now is swapped out in tests.
	now func() time.Time
}

// NewCoordinator wires the pipeline. radarr may be nil when Radarr is
// disabled; discoveries then fail at the folder-resolution step.
func NewCoordinator(db *database.DB, radarr FolderResolver, qbt TorrentDispatcher, notifier ApprovalNotifier) *Coordinator {
	return &Coordinator{
		db:       db,
		radarr:   radarr,
		qbt:      qbt,
		notifier: notifier,
		now:      time.Now,
	}
}

// ProcessDiscovery runs one tracker release through the pipeline and
// reports the outcome. Skips are normal operation; only infrastructure
// failures surface as OutcomeError.
func (c *Coordinator) ProcessDiscovery(ctx context.Context, release models.Release) Outcome {
	sketch, err := upgrade.ParseReleaseTitle(release.Title)
	if err != nil {
		return skip("unparseable")
	}

	policy, err := c.db.LoadPolicy(ctx)
	if err != nil {
		return failed(fmt.Sprintf("load policy: %v", err))
	}

	current, found, err := c.lookupCurrent(ctx, sketch, policy)
	if err != nil {
		return failed(fmt.Sprintf("library lookup: %v", err))
	}
	if !found && policy.NotifyOnlyLibraryMovies {
		return skip("not in library")
	}

	decision := upgrade.Classify(current, sketch.Capability(), policy)
	if decision.Notify {
		metrics.UpgradesClassified.WithLabelValues("notify").Inc()
	} else {
		metrics.UpgradesClassified.WithLabelValues("skip").Inc()
	}
	if !decision.Notify {
		return skip(decision.Reason)
	}

	qt := models.QualityTypeFor(sketch)

	// One live dialogue per movie and quality bucket; duplicate tracker
	// rows within the window collapse onto the existing one.
	active, err := c.db.HasActivePending(ctx, sketch.Title, qt)
	if err != nil {
		return failed(fmt.Sprintf("pending lookup: %v", err))
	}
	if active {
		return skip("approval already pending")
	}

	if c.radarr == nil {
		return failed(ErrNoRadarr.Error())
	}
	year := &sketch.Year
	folder, err := c.radarr.MovieFolder(ctx, sketch.Title, year)
	if err != nil {
		return failed(fmt.Sprintf("no folder: %v", err))
	}

	now := c.now().UTC()
	requestID := newRequestID(sketch, now)
	req := models.DownloadRequest{
		RequestID:      requestID,
		MovieTitle:     sketch.Title,
		Year:           year,
		CurrentQuality: upgrade.DescribeCapability(current),
		NewQuality:     upgrade.DescribeCapability(sketch.Capability()),
		UpgradeReason:  decision.Reason,
		TorrentURL:     release.URL,
		TorrentTitle:   release.Title,
		TargetFolder:   folder,
		QualityType:    qt,
		CreatedAt:      now,
	}
	if !found {
		req.CurrentQuality = "not in library"
	}

	p := &models.PendingDownload{
		RequestID:    requestID,
		MovieTitle:   sketch.Title,
		Year:         year,
		TorrentURL:   release.URL,
		TargetFolder: folder,
		QualityType:  qt,
		Status:       models.StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(policy.NotifyExpireHours) * time.Hour),
		DownloadData: req,
	}
	if err := c.db.CreatePending(ctx, p); err != nil {
		return failed(fmt.Sprintf("persist pending: %v", err))
	}
	c.appendHistory(ctx, p)
	c.updatePendingGauge(ctx)

	if c.notifier == nil {
		// No Telegram: the dialogue is approval-by-control-plane only
		// and expires on its own.
		logging.Info().
			Str("request_id", requestID).
			Str("title", sketch.Title).
			Msg("Approval opened without Telegram")
		return pending(requestID)
	}

	messageID, err := c.notifier.SendApproval(ctx, &req)
	if err != nil {
		// The dialogue stays live and will expire on its own; the
		// control plane still lists it.
		logging.Error().
			Str("request_id", requestID).
			Err(err).
			Msg("Approval message send failed")
		return pending(requestID)
	}
	if err := c.db.SetPendingMessageID(ctx, requestID, messageID); err != nil {
		logging.Error().
			Str("request_id", requestID).
			Err(err).
			Msg("Message id persist failed, callback recovery degraded")
	}
	metrics.ApprovalsSent.Inc()

	logging.Info().
		Str("request_id", requestID).
		Str("title", sketch.Title).
		Str("quality", string(qt)).
		Str("reason", decision.Reason).
		Msg("Approval dialogue opened")
	return pending(requestID)
}

// lookupCurrent resolves the owned capability for a sketch. When the
// movie is absent and the policy allows out-of-library notifications,
// classification runs against an empty baseline.
func (c *Coordinator) lookupCurrent(ctx context.Context, sketch *models.CapabilitySketch, policy models.UpgradePolicy) (models.Capability, bool, error) {
	rec, err := c.db.FindMovieByTitle(ctx, sketch.Title, &sketch.Year)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return models.Capability{Resolution: "unknown"}, false, nil
	case err != nil:
		return models.Capability{}, false, err
	}
	return rec.Capability(), true, nil
}

// HandleApproval resolves an operator verdict. The returned string is a
// short toast for the chat client. Replayed callbacks are answered with
// the current state and perform no side effects.
func (c *Coordinator) HandleApproval(ctx context.Context, requestID string, approved bool, messageID int64) (string, error) {
	p, err := c.loadPending(ctx, requestID, messageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "Request no longer exists", nil
		}
		return "", err
	}

	if approved {
		return c.approve(ctx, p)
	}
	return c.decline(ctx, p)
}

// loadPending fetches by request id, falling back to the message id for
// callbacks whose request mapping did not survive a restart.
func (c *Coordinator) loadPending(ctx context.Context, requestID string, messageID int64) (*models.PendingDownload, error) {
	p, err := c.db.GetPending(ctx, requestID)
	if errors.Is(err, database.ErrNotFound) && messageID != 0 {
		return c.db.GetPendingByMessageID(ctx, messageID)
	}
	return p, err
}

func (c *Coordinator) approve(ctx context.Context, p *models.PendingDownload) (string, error) {
	updated, err := c.db.TransitionPending(ctx, p.RequestID, models.StatusDownloading)
	if errors.Is(err, database.ErrInvalidTransition) {
		return fmt.Sprintf("Already %s", p.Status), nil
	}
	if err != nil {
		return "", err
	}

	if err := c.dispatch(ctx, updated); err != nil {
		// Hand the dialogue back so the operator can approve again once
		// the download client recovers.
		if revertErr := c.db.RevertToPending(ctx, p.RequestID); revertErr != nil {
			logging.Error().
				Str("request_id", p.RequestID).
				Err(revertErr).
				Msg("Revert after failed dispatch failed")
		}
		c.notice(ctx, fmt.Sprintf("⚠️ Dispatch failed for %s: %v\nApprove again to retry.", p.MovieTitle, err))
		metrics.ApprovalsResolved.WithLabelValues("dispatch_failed").Inc()
		return "", fmt.Errorf("dispatch %s: %w", p.RequestID, err)
	}

	if hash := c.captureTorrentHash(ctx, updated); hash != "" {
		updated.TorrentHash = hash
		if err := c.db.SetPendingTorrentHash(ctx, updated.RequestID, hash); err != nil {
			logging.Warn().
				Str("request_id", updated.RequestID).
				Err(err).
				Msg("Torrent hash persist failed")
		}
	}

	c.appendHistory(ctx, updated)
	c.updatePendingGauge(ctx)
	metrics.ApprovalsResolved.WithLabelValues("approved").Inc()

	if updated.TelegramMessageID != 0 && c.notifier != nil {
		if err := c.notifier.EditResolved(ctx, updated.TelegramMessageID, updated); err != nil {
			logging.Warn().Err(err).Msg("Approval message edit failed")
		}
	}

	logging.Info().
		Str("request_id", p.RequestID).
		Str("title", p.MovieTitle).
		Str("folder", p.TargetFolder).
		Msg("Download dispatched")
	return "Download started", nil
}

func (c *Coordinator) decline(ctx context.Context, p *models.PendingDownload) (string, error) {
	updated, err := c.db.TransitionPending(ctx, p.RequestID, models.StatusDeclined)
	if errors.Is(err, database.ErrInvalidTransition) {
		return fmt.Sprintf("Already %s", p.Status), nil
	}
	if err != nil {
		return "", err
	}

	c.appendHistory(ctx, updated)
	c.updatePendingGauge(ctx)
	metrics.ApprovalsResolved.WithLabelValues("declined").Inc()

	if updated.TelegramMessageID != 0 && c.notifier != nil {
		if err := c.notifier.EditResolved(ctx, updated.TelegramMessageID, updated); err != nil {
			logging.Warn().Err(err).Msg("Decline message edit failed")
		}
	}

	// The decision lives on in the history; the dialogue row does not.
	if err := c.db.DeletePending(ctx, updated.RequestID); err != nil {
		logging.Warn().
			Str("request_id", updated.RequestID).
			Err(err).
			Msg("Declined dialogue delete failed")
	}
	return "Skipped", nil
}

// dispatch adds the torrent, retrying once immediately on a transport
// failure. Protocol and malformed failures are not retried blindly.
func (c *Coordinator) dispatch(ctx context.Context, p *models.PendingDownload) error {
	err := c.qbt.AddTorrent(ctx, p.TorrentURL, p.TargetFolder, p.QualityType)
	var te *clients.TransportError
	if errors.As(err, &te) {
		logging.Warn().
			Str("request_id", p.RequestID).
			Err(err).
			Msg("Torrent add hit a transport error, retrying once")
		err = c.qbt.AddTorrent(ctx, p.TorrentURL, p.TargetFolder, p.QualityType)
	}
	return err
}

// captureTorrentHash resolves the hash of the torrent just dispatched.
// torrents/add does not echo the hash back, so the newest entry in the
// request's category is taken. Best-effort: with no hash, completion
// tracking falls back to save-path matching.
func (c *Coordinator) captureTorrentHash(ctx context.Context, p *models.PendingDownload) string {
	torrents, err := c.qbt.Torrents(ctx, p.QualityType)
	if err != nil {
		logging.Warn().
			Str("request_id", p.RequestID).
			Err(err).
			Msg("Torrent hash capture failed")
		return ""
	}

	var newest clients.TorrentInfo
	for _, t := range torrents {
		if t.Hash != "" && t.AddedOn >= newest.AddedOn {
			newest = t
		}
	}
	return newest.Hash
}

func (c *Coordinator) appendHistory(ctx context.Context, p *models.PendingDownload) {
	entry := &models.HistoryEntry{
		RequestID:   p.RequestID,
		MovieTitle:  p.MovieTitle,
		QualityType: p.QualityType,
		TorrentHash: p.TorrentHash,
		Status:      p.Status,
		StartedAt:   p.CreatedAt,
		CompletedAt: p.CompletedAt,
	}
	if err := c.db.AddHistory(ctx, entry); err != nil {
		logging.Warn().
			Str("request_id", p.RequestID).
			Err(err).
			Msg("History append failed")
	}
}

func (c *Coordinator) updatePendingGauge(ctx context.Context) {
	n, err := c.db.CountPending(ctx)
	if err != nil {
		return
	}
	metrics.PendingDownloads.Set(float64(n))
}

func (c *Coordinator) notice(ctx context.Context, text string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.SendNotice(ctx, text); err != nil {
		logging.Warn().Err(err).Msg("Notice send failed")
	}
}

// newRequestID derives the 12-hex dialogue id from the sketch and the
// creation instant. Hex keeps the id safe inside callback data.
func newRequestID(sketch *models.CapabilitySketch, now time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%t|%t|%s|%d",
		sketch.Title, sketch.Year, sketch.DVProfile, sketch.IsFEL,
		sketch.HasAtmos, sketch.Resolution, now.UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:12]
}
