package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/null2264/MoodleBot/internal/infrastructure/external/telegram"
	"github.com/null2264/MoodleBot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM WEBHOOK HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SecretTokenHeader carries the secret given to setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxUpdateBytes bounds a single webhook body.
const maxUpdateBytes = 1 << 20

// UpdateDispatcher accepts updates for asynchronous processing.
type UpdateDispatcher interface {
	Dispatch(ctx context.Context, update *telegram.Update) error
}

// TelegramWebhook receives updates pushed by Telegram.
type TelegramWebhook struct {
	dispatcher UpdateDispatcher
	secret     string
	logger     *slog.Logger
}

// NewTelegramWebhook creates the webhook handler. An empty secret disables
// the header check.
func NewTelegramWebhook(dispatcher UpdateDispatcher, secret string, log *slog.Logger) *TelegramWebhook {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramWebhook{
		dispatcher: dispatcher,
		secret:     secret,
		logger:     log.With(logger.Component("webhook")),
	}
}

// ServeHTTP validates and dispatches one update. Telegram retries anything
// other than 2xx, so processing errors are logged and still acknowledged.
func (h *TelegramWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.Warn("webhook secret mismatch")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var update telegram.Update
	if err := json.Unmarshal(body, &update); err != nil {
		// The decode error can quote the body; log only its size.
		h.logger.Warn("invalid webhook payload", slog.Int("bytes", len(body)))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), &update); err != nil {
		h.logger.Error("failed to dispatch update",
			slog.Int64("update_id", update.UpdateID),
			logger.Err(err),
		)
	}

	w.WriteHeader(http.StatusOK)
}
