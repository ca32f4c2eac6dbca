// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package telegram

import (
	"context"

	"github.com/tomtom215/dovetail/internal/models"
)

// Notifier is the rendering layer between the pipeline and the bot: it
// formats domain records into chat messages so callers never deal in
// Telegram shapes.
type Notifier struct {
	bot *BotClient
}

// NewNotifier wraps a bot client.
func NewNotifier(bot *BotClient) *Notifier {
	return &Notifier{bot: bot}
}

// SendApproval posts the approval prompt with its yes/no keyboard and
// returns the message id for later edits.
func (n *Notifier) SendApproval(ctx context.Context, req *models.DownloadRequest) (int64, error) {
	return n.bot.SendMessage(ctx, FormatApproval(req), ApprovalKeyboard(req.RequestID), kindApproval)
}

// EditResolved rewrites an approval prompt to its terminal text, which
// also drops the inline keyboard.
func (n *Notifier) EditResolved(ctx context.Context, messageID int64, p *models.PendingDownload) error {
	return n.bot.EditMessageText(ctx, messageID, FormatResolved(p))
}

// SendNotice posts a plain non-interactive message.
func (n *Notifier) SendNotice(ctx context.Context, text string) error {
	_, err := n.bot.SendMessage(ctx, text, nil, kindNotice)
	return err
}

// SendDigest posts a summary message. Empty digests are dropped.
func (n *Notifier) SendDigest(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := n.bot.SendMessage(ctx, text, nil, kindDigest)
	return err
}
