// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

/*
bot.go - Telegram Bot API Client

This file provides the BotClient for the small Bot API surface Dovetail
uses:

  - getMe: connectivity and token test
  - sendMessage: notifications and approval prompts with inline keyboards
  - editMessageText: resolving approval prompts in place
  - answerCallbackQuery: acknowledging button presses
  - getUpdates: long-poll transport for callback queries

All outbound sends pass through a shared rate limiter because Telegram
enforces roughly one message per second per chat.

Related files:
  - approvals.go: approval message rendering and callback data codec
  - digest.go: scan and discovery digest rendering
  - poller.go: getUpdates long-poll service
*/

//nolint:staticcheck // File documentation, not package doc
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/dovetail/internal/clients"
	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/metrics"
)

const defaultAPIBase = "https://api.telegram.org"

// Message kinds for the outbound metrics label.
const (
	kindApproval = "approval"
	kindDigest   = "digest"
	kindNotice   = "notice"
	kindEdit     = "edit"
)

// BotClient talks to the Telegram Bot API for a single chat.
type BotClient struct {
	apiBase    string
	token      string
	chatID     int64
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewBotClient creates a Telegram client for the configured chat.
func NewBotClient(cfg config.TelegramConfig) *BotClient {
	perSecond := cfg.MessagesPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	return &BotClient{
		apiBase:    defaultAPIBase,
		token:      cfg.BotToken,
		chatID:     cfg.ChatID,
		httpClient: clients.NewHTTPClient(cfg.PollTimeout + 10*time.Second),
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// InlineKeyboardButton is one button of an inline keyboard row.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboardMarkup is the reply_markup payload for inline keyboards.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// Update is one getUpdates entry. Dovetail only consumes callback
// queries; plain messages are skipped.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// CallbackQuery is a button press on an approval message.
type CallbackQuery struct {
	ID      string `json:"id"`
	Data    string `json:"data"`
	From    User   `json:"from"`
	Message *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message,omitempty"`
}

// User identifies the Telegram account behind a callback.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// apiResponse is the Bot API envelope around every method result.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

// TestConnection validates the bot token via getMe.
func (c *BotClient) TestConnection(ctx context.Context) error {
	return c.call(ctx, "getMe", nil, nil)
}

// SendMessage sends text to the configured chat, optionally with an
// inline keyboard, and returns the new message id. kind labels the
// outbound metrics counter.
func (c *BotClient) SendMessage(ctx context.Context, text string, keyboard *InlineKeyboardMarkup, kind string) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	params := map[string]any{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if keyboard != nil {
		params["reply_markup"] = keyboard
	}

	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := c.call(ctx, "sendMessage", params, &sent); err != nil {
		return 0, err
	}
	metrics.TelegramMessagesSent.WithLabelValues(kind).Inc()
	return sent.MessageID, nil
}

// EditMessageText replaces an earlier message's text and drops its
// keyboard. Used to resolve approval prompts in place.
func (c *BotClient) EditMessageText(ctx context.Context, messageID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	params := map[string]any{
		"chat_id":    c.chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if err := c.call(ctx, "editMessageText", params, nil); err != nil {
		return err
	}
	metrics.TelegramMessagesSent.WithLabelValues(kindEdit).Inc()
	return nil
}

// AnswerCallbackQuery acknowledges a button press so the client stops
// showing its spinner. text, when set, appears as a toast.
func (c *BotClient) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// GetUpdates long-polls for updates past offset. timeout is the server
// hold time; the HTTP client allows extra slack on top of it.
func (c *BotClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"callback_query"},
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// call executes one Bot API method with a JSON body and decodes the
// envelope's result field into out.
func (c *BotClient) call(ctx context.Context, method string, params map[string]any, out any) error {
	start := time.Now()
	err := c.doCall(ctx, method, params, out)
	metrics.RecordClientRequest("telegram", time.Since(start), clients.ErrorKind(err))
	return err
}

func (c *BotClient) doCall(ctx context.Context, method string, params map[string]any, out any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)

	body := http.NoBody
	var reader io.Reader = body
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &clients.TransportError{Service: "telegram", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &clients.TransportError{Service: "telegram", Err: err}
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &clients.MalformedError{Service: "telegram", Err: err}
	}
	if !envelope.OK {
		return &clients.ProtocolError{
			Service:    "telegram",
			StatusCode: resp.StatusCode,
			Body:       envelope.Description,
		}
	}

	if out != nil {
		if envelope.Result == nil {
			return &clients.MalformedError{Service: "telegram", Err: errors.New("envelope ok without result")}
		}
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return &clients.MalformedError{Service: "telegram", Err: err}
		}
	}
	return nil
}
