// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package downloads

import (
	"context"
	"time"

	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/metrics"
)

// SweepExpired expires every overdue approval dialogue, rewrites their
// chat messages, and drops the rows once the history holds the verdict.
// Returns how many were closed. Called every monitor tick.
func (c *Coordinator) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := c.db.SweepExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	for _, p := range expired {
		c.appendHistory(ctx, p)
		metrics.ApprovalsResolved.WithLabelValues("expired").Inc()

		if p.TelegramMessageID != 0 && c.notifier != nil {
			if err := c.notifier.EditResolved(ctx, p.TelegramMessageID, p); err != nil {
				logging.Warn().
					Str("request_id", p.RequestID).
					Err(err).
					Msg("Expiry message edit failed")
			}
		}

		// Recorded in history above; the dialogue row is done.
		if err := c.db.DeletePending(ctx, p.RequestID); err != nil {
			logging.Warn().
				Str("request_id", p.RequestID).
				Err(err).
				Msg("Expired dialogue delete failed")
		}
	}
	c.updatePendingGauge(ctx)

	logging.Info().
		Int("expired", len(expired)).
		Msg("Expiry sweep closed overdue approvals")
	return len(expired), nil
}
