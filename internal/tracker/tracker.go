// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package tracker

import (
	"context"
	"time"

	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/metrics"
	"github.com/tomtom215/dovetail/internal/models"
)

// seenGCInterval spaces the opportunistic Badger value-log GC runs
// piggybacked on the poll cycle.
const seenGCInterval = time.Hour

// Poller ties the feed client and the seen set into one poll surface.
// Poll and MarkDelivered run on the monitor loop only; the Poller is
// not safe for concurrent use.
type Poller struct {
	client *Client
	seen   *SeenSet
	lastGC time.Time
}

// NewPoller creates the tracker poll surface.
func NewPoller(client *Client, seen *SeenSet) *Poller {
	return &Poller{client: client, seen: seen, lastGC: time.Now()}
}

// BreakerState reports the feed circuit state for the status snapshot.
func (p *Poller) BreakerState() string {
	return p.client.BreakerState()
}

// Poll fetches the feed snapshot, diffs it against the seen set, and
// returns the never-seen releases in feed order. The identifiers stay
// unmarked until MarkDelivered, so a crash between poll and hand-off
// re-delivers instead of dropping.
func (p *Poller) Poll(ctx context.Context) ([]models.Release, error) {
	if time.Since(p.lastGC) >= seenGCInterval {
		p.seen.RunGC()
		p.lastGC = time.Now()
	}

	snapshot, err := p.client.GetReleases(ctx)
	if err != nil {
		return nil, err
	}

	fresh, err := p.seen.FilterNew(snapshot)
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	logging.Info().
		Int("snapshot", len(snapshot)).
		Int("new", len(fresh)).
		Msg("Tracker poll surfaced new releases")
	return fresh, nil
}

// MarkDelivered records the releases as seen once the pipeline has
// processed them.
func (p *Poller) MarkDelivered(releases []models.Release) error {
	if len(releases) == 0 {
		return nil
	}
	if err := p.seen.MarkSeen(releases); err != nil {
		return err
	}
	metrics.TrackerReleasesSeen.Add(float64(len(releases)))
	return nil
}
