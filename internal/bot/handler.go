package bot

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"

	"nutribot/internal/models"
	"nutribot/internal/report"
	"nutribot/internal/transcribe"
)

// Callback actions carried in button payloads as "<action>:<proposal id>".
const (
	ActionConfirm = "confirm"
	ActionDecline = "decline"
)

// Update is one inbound event from the chat transport.
type Update struct {
	UserID   int64
	Text     string
	Voice    *Voice
	Callback *Callback
}

type Voice struct {
	FileID string
}

// Callback is a button press.
type Callback struct {
	ID   string
	Data string
}

// Transport is the chat side the handler talks to.
type Transport interface {
	Messenger
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

type Handler struct {
	svc         *Service
	transport   Transport
	transcriber transcribe.Transcriber
	log         *slog.Logger
}

func NewHandler(svc *Service, transport Transport, transcriber transcribe.Transcriber, logger *slog.Logger) *Handler {
	return &Handler{
		svc:         svc,
		transport:   transport,
		transcriber: transcriber,
		log:         logger.With("component", "handler"),
	}
}

func CallbackData(action, proposalID string) string {
	return action + ":" + proposalID
}

func ParseCallback(data string) (action, proposalID string, ok bool) {
	action, proposalID, ok = strings.Cut(data, ":")
	if !ok || (action != ActionConfirm && action != ActionDecline) {
		return "", "", false
	}
	return action, proposalID, true
}

// Handle processes one update. It never panics.
func (h *Handler) Handle(ctx context.Context, u Update) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("update handler panicked", "user_id", u.UserID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	var (
		msg OutboundMessage
		err error
	)
	switch {
	case u.Callback != nil:
		msg, err = h.handleCallback(ctx, u)
	case u.Voice != nil:
		msg, err = h.handleVoice(ctx, u)
	default:
		msg, err = h.handleText(ctx, u.UserID, u.Text)
	}

	if err != nil && !errors.Is(err, models.ErrNoPendingProposal) {
		h.log.Warn("update failed", "user_id", u.UserID, "error", err)
	}
	if msg.Text == "" {
		return
	}
	if err := h.transport.Send(ctx, msg); err != nil {
		h.log.Error("failed to send reply", "user_id", u.UserID, "error", err)
	}
}

func (h *Handler) handleCallback(ctx context.Context, u Update) (OutboundMessage, error) {
	if err := h.transport.AnswerCallback(ctx, u.Callback.ID, ""); err != nil {
		h.log.Debug("failed to answer callback", "user_id", u.UserID, "error", err)
	}

	action, proposalID, ok := ParseCallback(u.Callback.Data)
	if !ok {
		return h.svc.reply(u.UserID, report.NothingToConfirm), nil
	}
	if action == ActionConfirm {
		return h.svc.Confirm(ctx, u.UserID, proposalID)
	}
	return h.svc.Decline(ctx, u.UserID, proposalID)
}

func (h *Handler) handleVoice(ctx context.Context, u Update) (OutboundMessage, error) {
	audio, filename, err := h.transport.DownloadFile(ctx, u.Voice.FileID)
	if err != nil {
		return h.svc.reply(u.UserID, report.Failure), err
	}

	text, err := h.transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		return h.svc.reply(u.UserID, report.VoiceNoText), err
	}

	if err := h.transport.Send(ctx, h.svc.reply(u.UserID, report.VoiceEcho(text))); err != nil {
		h.log.Warn("failed to echo transcript", "user_id", u.UserID, "error", err)
	}
	return h.svc.LogFood(ctx, u.UserID, text)
}

func (h *Handler) handleText(ctx context.Context, userID int64, text string) (OutboundMessage, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		return h.handleCommand(ctx, userID, text)
	}

	if h.svc.HasPending(userID) {
		if action := answer(text); action != "" {
			return h.answerPending(ctx, userID, action)
		}
	}
	return h.svc.LogFood(ctx, userID, text)
}

func (h *Handler) handleCommand(ctx context.Context, userID int64, text string) (OutboundMessage, error) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}

	switch cmd {
	case "start":
		return h.svc.Start(ctx, userID)
	case "reset":
		return h.svc.Reset(ctx, userID)
	case "totais", "totals":
		return h.svc.ShowTotals(ctx, userID)
	case "relatorio_on":
		return h.svc.EnableReports(ctx, userID)
	case "relatorio_off":
		return h.svc.DisableReports(ctx, userID)
	case "relatorio_agora":
		return h.svc.SendReportNow(ctx, userID)
	case "sim":
		return h.answerPending(ctx, userID, ActionConfirm)
	case "nao", "não":
		return h.answerPending(ctx, userID, ActionDecline)
	default:
		return h.svc.Help(ctx, userID)
	}
}

// answerPending binds a typed answer to the proposal the user has seen.
// A proposal that supersedes it while the answer waits for the user's lane
// makes the answer stale.
func (h *Handler) answerPending(ctx context.Context, userID int64, action string) (OutboundMessage, error) {
	p, ok := h.svc.Pending(userID)
	if !ok {
		return h.svc.reply(userID, report.NothingToConfirm), models.ErrNoPendingProposal
	}
	if action == ActionConfirm {
		return h.svc.Confirm(ctx, userID, p.ID)
	}
	return h.svc.Decline(ctx, userID, p.ID)
}

// answer maps a typed yes/no to an action, or "" for anything else.
func answer(text string) string {
	switch strings.ToLower(strings.Trim(text, " .!")) {
	case "sim", "s", "yes", "y", "ok", "confirmar", "confirmo":
		return ActionConfirm
	case "não", "nao", "n", "no", "cancelar":
		return ActionDecline
	}
	return ""
}
