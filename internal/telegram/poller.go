// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/logging"
)

// CallbackHandler resolves an approval verdict. The returned text is
// shown to the operator as a callback toast; an error leaves the
// pending record untouched for a retry.
type CallbackHandler interface {
	HandleApproval(ctx context.Context, requestID string, approved bool, messageID int64) (string, error)
}

// pollErrorBackoff spaces out retries when getUpdates keeps failing.
const pollErrorBackoff = 5 * time.Second

// Poller long-polls getUpdates and routes approval callbacks to the
// handler. It implements suture.Service and runs under the supervisor
// tree.
type Poller struct {
	bot     *BotClient
	handler CallbackHandler
	chatID  int64
	timeout time.Duration

	// backoff is swapped out in tests.
	backoff time.Duration
}

// NewPoller creates the callback poll service.
func NewPoller(bot *BotClient, handler CallbackHandler, cfg config.TelegramConfig) *Poller {
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{
		bot:     bot,
		handler: handler,
		chatID:  cfg.ChatID,
		timeout: timeout,
		backoff: pollErrorBackoff,
	}
}

// Serve implements suture.Service. It blocks until the context is
// canceled; poll failures back off and retry rather than crashing the
// service.
func (p *Poller) Serve(ctx context.Context) error {
	logging.Info().
		Dur("poll_timeout", p.timeout).
		Msg("Telegram callback poller started")

	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := p.bot.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			logging.Warn().Err(err).Msg("Telegram getUpdates failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.CallbackQuery == nil {
				continue
			}
			p.handleCallback(ctx, update.CallbackQuery)
		}
	}
}

// handleCallback routes a single button press. Every callback gets
// answered so the client spinner clears, even for stale or foreign
// data.
func (p *Poller) handleCallback(ctx context.Context, cb *CallbackQuery) {
	if cb.Message != nil && cb.Message.Chat.ID != p.chatID {
		logging.Warn().
			Int64("chat_id", cb.Message.Chat.ID).
			Int64("user_id", cb.From.ID).
			Msg("Callback from unexpected chat ignored")
		p.answer(ctx, cb.ID, "")
		return
	}

	requestID, approved, ok := ParseCallback(cb.Data)
	if !ok {
		p.answer(ctx, cb.ID, "")
		return
	}

	var messageID int64
	if cb.Message != nil {
		messageID = cb.Message.MessageID
	}

	toast, err := p.handler.HandleApproval(ctx, requestID, approved, messageID)
	if err != nil {
		logging.Error().
			Str("request_id", requestID).
			Bool("approved", approved).
			Err(err).
			Msg("Approval handling failed")
		p.answer(ctx, cb.ID, "Something went wrong, try again")
		return
	}
	p.answer(ctx, cb.ID, toast)
}

func (p *Poller) answer(ctx context.Context, callbackID, text string) {
	if err := p.bot.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		logging.Warn().Err(err).Msg("answerCallbackQuery failed")
	}
}
