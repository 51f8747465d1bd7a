// Package telegram is the Bot API transport: long polling for updates,
// replies with inline yes/no buttons, and voice note downloads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"nutribot/internal/bot"
	"nutribot/internal/models"
)

const (
	defaultMaxFileBytes = 20 * 1024 * 1024
	maxInflight         = 32
)

type Config struct {
	Token       string
	APIURL      string
	PollTimeout time.Duration
}

// Client talks to the Bot API. Users are addressed by their private chat,
// whose id equals the user id.
type Client struct {
	http         *http.Client
	baseURL      string
	token        string
	pollTimeout  time.Duration
	maxFileBytes int64
	log          *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	return &Client{
		http:         &http.Client{Timeout: cfg.PollTimeout + 15*time.Second},
		baseURL:      strings.TrimRight(cfg.APIURL, "/"),
		token:        cfg.Token,
		pollTimeout:  cfg.PollTimeout,
		maxFileBytes: defaultMaxFileBytes,
		log:          logger.With("component", "telegram"),
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message,omitempty"`
	CallbackQuery *callbackQuery `json:"callback_query,omitempty"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Chat      *chat  `json:"chat,omitempty"`
	From      *user  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
	Voice     *voice `json:"voice,omitempty"`
	Audio     *voice `json:"audio,omitempty"`
}

type chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type user struct {
	ID    int64 `json:"id"`
	IsBot bool  `json:"is_bot,omitempty"`
}

type voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type callbackQuery struct {
	ID   string `json:"id"`
	From *user  `json:"from,omitempty"`
	Data string `json:"data,omitempty"`
}

type file struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

// Send posts a message, attaching Sim/Não buttons when it carries a proposal.
func (c *Client) Send(ctx context.Context, msg bot.OutboundMessage) error {
	req := sendMessageRequest{ChatID: msg.UserID, Text: msg.Text}
	if msg.ProposalID != "" {
		req.ReplyMarkup = &inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{{
			{Text: "✅ Sim", CallbackData: bot.CallbackData(bot.ActionConfirm, msg.ProposalID)},
			{Text: "❌ Não", CallbackData: bot.CallbackData(bot.ActionDecline, msg.ProposalID)},
		}}}
	}
	return c.call(ctx, "sendMessage", req, nil)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID, Text: text}, nil)
}

// DownloadFile resolves a file id and fetches its content.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return nil, "", fmt.Errorf("telegram: missing file_id: %w", models.ErrTransport)
	}

	var f file
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &f); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(f.FilePath) == "" {
		return nil, "", fmt.Errorf("telegram getFile: missing file_path: %w", models.ErrTransport)
	}

	u := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(f.FilePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram download: %w: %w", models.ErrTransport, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram download: %w: %w", models.ErrTransport, redact(err, c.token))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("telegram download http %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), models.ErrTransport)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxFileBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("telegram download: %w: %w", models.ErrTransport, err)
	}
	if int64(len(data)) > c.maxFileBytes {
		return nil, "", fmt.Errorf("telegram file too large (>%d bytes): %w", c.maxFileBytes, models.ErrTransport)
	}
	return data, path.Base(f.FilePath), nil
}

func (c *Client) getUpdates(ctx context.Context, offset int64) ([]update, int64, error) {
	secs := int(c.pollTimeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	q := url.Values{}
	q.Set("timeout", fmt.Sprint(secs))
	q.Set("allowed_updates", `["message","callback_query"]`)
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}

	var updates []update
	if err := c.do(ctx, http.MethodGet, "getUpdates?"+q.Encode(), nil, &updates); err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

// Poll long-polls for updates and hands each one to handle until ctx is
// cancelled. Updates run concurrently; ordering per user is the handler's job.
func (c *Client) Poll(ctx context.Context, handle func(context.Context, bot.Update)) error {
	var g errgroup.Group
	g.SetLimit(maxInflight)
	defer func() { _ = g.Wait() }()

	var offset int64
	backoff := time.Second
	c.log.Info("polling for updates", "timeout", c.pollTimeout)
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, next, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("get updates failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
		offset = next

		for _, u := range updates {
			in, ok := toUpdate(u)
			if !ok {
				continue
			}
			g.Go(func() error {
				handle(ctx, in)
				return nil
			})
		}
	}
}

// toUpdate keeps private messages from people and button presses.
func toUpdate(u update) (bot.Update, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil || cq.From.IsBot {
			return bot.Update{}, false
		}
		return bot.Update{UserID: cq.From.ID, Callback: &bot.Callback{ID: cq.ID, Data: cq.Data}}, true
	}

	msg := u.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return bot.Update{}, false
	}
	if msg.Chat != nil && msg.Chat.Type != "" && msg.Chat.Type != "private" {
		return bot.Update{}, false
	}

	out := bot.Update{UserID: msg.From.ID}
	switch {
	case msg.Voice != nil:
		out.Voice = &bot.Voice{FileID: msg.Voice.FileID}
	case msg.Audio != nil:
		out.Voice = &bot.Voice{FileID: msg.Audio.FileID}
	case strings.TrimSpace(msg.Text) != "":
		out.Text = msg.Text
	default:
		return bot.Update{}, false
	}
	return out, true
}

func (c *Client) call(ctx context.Context, method string, body, out any) error {
	return c.do(ctx, http.MethodPost, method, body, out)
}

func (c *Client) do(ctx context.Context, httpMethod, method string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("telegram %s: marshal: %w", apiMethod(method), err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method), reader)
	if err != nil {
		return fmt.Errorf("telegram %s: %w: %w", apiMethod(method), models.ErrTransport, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w: %w", apiMethod(method), models.ErrTransport, redact(err, c.token))
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return fmt.Errorf("telegram %s http %d: %w", apiMethod(method), resp.StatusCode, models.ErrTransport)
	}
	if !ar.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram %s http %d: %s: %w", apiMethod(method), resp.StatusCode, ar.Description, models.ErrTransport)
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w: %w", apiMethod(method), models.ErrTransport, err)
		}
	}
	return nil
}

func apiMethod(method string) string {
	m, _, _ := strings.Cut(method, "?")
	return m
}

// redact keeps the bot token out of logged URL errors.
func redact(err error, token string) error {
	var ue *url.Error
	if token == "" || !errors.As(err, &ue) {
		return err
	}
	return errors.New(strings.ReplaceAll(ue.Error(), token, "<token>"))
}
