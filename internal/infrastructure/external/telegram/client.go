// Package telegram implements a Telegram Bot API wrapper.
// This package provides a clean interface for sending messages, handling updates,
// and managing inline keyboards for the Moodle bot.
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
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/null2264/MoodleBot/pkg/logger"
	"github.com/null2264/MoodleBot/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Telegram client.
type ClientConfig struct {
	// Token is the Telegram Bot API token
	Token string

	// BaseURL is the Telegram Bot API base URL (default: https://api.telegram.org)
	BaseURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// PollTimeout is the long polling timeout in seconds
	PollTimeout int

	// RetryAttempts is the number of retry attempts for failed requests
	RetryAttempts int

	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:         token,
		BaseURL:       "https://api.telegram.org",
		Timeout:       60 * time.Second, // Must be > polling timeout (30s) + network latency
		PollTimeout:   30,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM API TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Chat types.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
)

// Update represents a Telegram update.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
	EditedMessage *Message       `json:"edited_message,omitempty"`
}

// Message represents a Telegram message.
type Message struct {
	MessageID int64           `json:"message_id"`
	From      *User           `json:"from,omitempty"`
	Chat      *Chat           `json:"chat"`
	Date      int64           `json:"date"`
	Text      string          `json:"text,omitempty"`
	Entities  []MessageEntity `json:"entities,omitempty"`

	// Reply information
	ReplyToMessage *Message `json:"reply_to_message,omitempty"`
}

// User represents a Telegram user.
type User struct {
	ID           int64  `json:"id"`
	IsBot        bool   `json:"is_bot"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Chat represents a Telegram chat.
type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// MessageEntity represents a message entity (command, mention, etc.).
type MessageEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	User   *User  `json:"user,omitempty"`
}

// CallbackQuery represents a callback query from an inline keyboard.
type CallbackQuery struct {
	ID              string   `json:"id"`
	From            *User    `json:"from"`
	Message         *Message `json:"message,omitempty"`
	InlineMessageID string   `json:"inline_message_id,omitempty"`
	Data            string   `json:"data,omitempty"`
}

// InlineKeyboardMarkup represents an inline keyboard.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// InlineKeyboardButton represents a button in an inline keyboard.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// BotCommand describes a command shown in the Telegram command menu.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// APIResponse represents a Telegram API response.
type APIResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// ResponseParameters contains additional error parameters.
type ResponseParameters struct {
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
	RetryAfter      int   `json:"retry_after,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Telegram Bot API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	retrier    *retry.Retrier

	// Update handling
	updateOffset int64
	updateMu     sync.Mutex
}

// NewClient creates a new Telegram client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.telegram.org"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.PollTimeout <= 0 {
		config.PollTimeout = 30
	}

	log := config.Logger.With(logger.Component("telegram"))

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: log,
		retrier: retry.New(
			retry.WithMaxAttempts(config.RetryAttempts+1),
			retry.WithInitialDelay(config.RetryDelay),
			retry.WithMaxDelay(30*time.Second),
			retry.WithJitter(0.1),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("retrying telegram api call",
					slog.Int("attempt", attempt),
					slog.Duration("delay", delay),
					logger.Err(err),
				)
			}),
		),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SENDING MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// SendMessageParams contains parameters for sending a message.
type SendMessageParams struct {
	ChatID              int64
	Text                string
	ParseMode           string // "HTML", "Markdown", "MarkdownV2"
	DisableNotification bool
	DisableWebPreview   bool
	ProtectContent      bool
	ReplyToMessageID    int64
	ReplyMarkup         *InlineKeyboardMarkup
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	body := map[string]any{
		"chat_id": params.ChatID,
		"text":    params.Text,
	}

	if params.ParseMode != "" {
		body["parse_mode"] = params.ParseMode
	}
	if params.DisableNotification {
		body["disable_notification"] = true
	}
	if params.DisableWebPreview {
		body["link_preview_options"] = map[string]bool{"is_disabled": true}
	}
	if params.ProtectContent {
		body["protect_content"] = true
	}
	if params.ReplyToMessageID > 0 {
		body["reply_parameters"] = map[string]any{
			"message_id":                  params.ReplyToMessageID,
			"allow_sending_without_reply": true,
		}
	}
	if params.ReplyMarkup != nil {
		body["reply_markup"] = params.ReplyMarkup
	}

	var message Message
	if err := c.callAPI(ctx, "sendMessage", body, &message); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	return &message, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EDITING MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// EditMessageText edits the text of a message.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int64, text string, parseMode string, keyboard *InlineKeyboardMarkup) (*Message, error) {
	body := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}

	if parseMode != "" {
		body["parse_mode"] = parseMode
	}
	if keyboard != nil {
		body["reply_markup"] = keyboard
	}

	var message Message
	if err := c.callAPI(ctx, "editMessageText", body, &message); err != nil {
		if IsNotModified(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("edit message text: %w", err)
	}

	return &message, nil
}

// EditMessageKeyboard edits only the inline keyboard of a message.
// A nil keyboard removes it.
func (c *Client) EditMessageKeyboard(ctx context.Context, chatID int64, messageID int64, keyboard *InlineKeyboardMarkup) error {
	if keyboard == nil {
		keyboard = &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}}
	}
	body := map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"reply_markup": keyboard,
	}

	if err := c.callAPI(ctx, "editMessageReplyMarkup", body, nil); err != nil {
		if IsNotModified(err) {
			return nil
		}
		return fmt.Errorf("edit message keyboard: %w", err)
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACK QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// AnswerCallbackQuery answers a callback query.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string, showAlert bool) error {
	body := map[string]any{
		"callback_query_id": callbackQueryID,
	}

	if text != "" {
		body["text"] = text
		body["show_alert"] = showAlert
	}

	if err := c.callAPI(ctx, "answerCallbackQuery", body, nil); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GETTING UPDATES
// ══════════════════════════════════════════════════════════════════════════════

// GetUpdates fetches updates using long polling.
func (c *Client) GetUpdates(ctx context.Context, offset int64, limit int, timeout int) ([]Update, error) {
	body := map[string]any{
		"timeout":         timeout,
		"allowed_updates": []string{"message", "callback_query"},
	}

	if offset > 0 {
		body["offset"] = offset
	}
	if limit > 0 {
		body["limit"] = limit
	}

	var updates []Update
	if err := c.doAPICall(ctx, "getUpdates", body, &updates); err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}

	return updates, nil
}

// SetWebhook sets a webhook for receiving updates.
func (c *Client) SetWebhook(ctx context.Context, url, secretToken string, maxConnections int) error {
	body := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query"},
	}

	if secretToken != "" {
		body["secret_token"] = secretToken
	}
	if maxConnections > 0 {
		// Telegram accepts 1-100.
		body["max_connections"] = min(maxConnections, 100)
	}

	if err := c.callAPI(ctx, "setWebhook", body, nil); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	return nil
}

// DeleteWebhook removes the webhook.
func (c *Client) DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error {
	body := map[string]any{
		"drop_pending_updates": dropPendingUpdates,
	}

	if err := c.callAPI(ctx, "deleteWebhook", body, nil); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT INFO
// ══════════════════════════════════════════════════════════════════════════════

// GetMe returns information about the bot.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.callAPI(ctx, "getMe", nil, &user); err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}

	return &user, nil
}

// SetMyCommands publishes the command menu.
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	body := map[string]any{
		"commands": commands,
	}

	if err := c.callAPI(ctx, "setMyCommands", body, nil); err != nil {
		return fmt.Errorf("set my commands: %w", err)
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// API CALL HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// callAPI makes a call to the Telegram Bot API, retrying rate limits,
// server errors and network failures.
func (c *Client) callAPI(ctx context.Context, method string, body map[string]any, result any) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		err := c.doAPICall(ctx, method, body, result)
		if err == nil || !isRetryableError(err) {
			return err
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			return retry.RetryAfter(err, time.Duration(apiErr.RetryAfter)*time.Second)
		}
		return retry.Retryable(err)
	})
}

// doAPICall performs a single API call.
func (c *Client) doAPICall(ctx context.Context, method string, body map[string]any, result any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.config.BaseURL, c.config.Token, method)

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("create request %s: %w", method, stripURL(err))
	}

	req.Header.Set("Content-Type", "application/json")

	if c.config.Debug {
		c.logger.Debug("telegram api call", slog.String("method", method))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The request URL carries the bot token and must not reach the logs.
		return fmt.Errorf("http request %s: %w", method, stripURL(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return &APIError{Code: resp.StatusCode, Description: "invalid response body"}
	}

	if !apiResp.OK {
		apiErr := &APIError{
			Code:        apiResp.ErrorCode,
			Description: apiResp.Description,
		}
		if apiResp.Parameters != nil {
			apiErr.RetryAfter = apiResp.Parameters.RetryAfter
		}
		return apiErr
	}

	if result != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}

	return nil
}

// stripURL removes the request URL from *url.Error.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError represents a Telegram API error.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// isRetryableError checks if an error is retryable.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}

	// Network errors are retryable
	return containsAny(err.Error(), "timeout", "connection refused", "temporary", "reset", "EOF")
}

// IsForbidden reports whether the bot may not write to the chat,
// e.g. the user never started a private chat or blocked the bot.
func IsForbidden(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusForbidden || containsAny(apiErr.Description,
			"bot was blocked",
			"user is deactivated",
			"can't initiate conversation",
		)
	}
	return false
}

// IsNotModified reports the harmless "message is not modified" error that
// Telegram returns when an edit changes nothing.
func IsNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// LONG POLLING RUNNER
// ══════════════════════════════════════════════════════════════════════════════

// UpdateHandler is a function that handles a Telegram update.
type UpdateHandler func(ctx context.Context, update *Update) error

// StartPolling starts long polling for updates. It returns nil when ctx is cancelled.
func (c *Client) StartPolling(ctx context.Context, handler UpdateHandler) error {
	c.logger.Info("starting telegram long polling")

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			c.logger.Info("stopping telegram long polling")
			return nil
		}

		c.updateMu.Lock()
		offset := c.updateOffset
		c.updateMu.Unlock()

		updates, err := c.GetUpdates(ctx, offset, 100, c.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to get updates", logger.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		for i := range updates {
			update := &updates[i]

			c.updateMu.Lock()
			if update.UpdateID >= c.updateOffset {
				c.updateOffset = update.UpdateID + 1
			}
			c.updateMu.Unlock()

			if err := handler(ctx, update); err != nil {
				c.logger.Error("failed to handle update",
					slog.Int64("update_id", update.UpdateID),
					logger.Err(err),
				)
			}
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UTILITY METHODS
// ══════════════════════════════════════════════════════════════════════════════

// ExtractCommand extracts the command from a message (without the / and
// without a trailing @botname).
func ExtractCommand(msg *Message) string {
	end, ok := commandEnd(msg)
	if !ok || end < 2 {
		return ""
	}
	cmd, _, _ := strings.Cut(msg.Text[1:end], "@")
	return strings.ToLower(cmd)
}

// ExtractCommandArgs extracts arguments after the command.
func ExtractCommandArgs(msg *Message) string {
	end, ok := commandEnd(msg)
	if !ok {
		return ""
	}
	return strings.TrimSpace(msg.Text[end:])
}

// commandEnd returns the byte index in msg.Text just past a leading
// bot_command entity.
func commandEnd(msg *Message) (int, bool) {
	if msg == nil || msg.Text == "" {
		return 0, false
	}
	for _, entity := range msg.Entities {
		if entity.Type == "bot_command" && entity.Offset == 0 {
			return utf16ToByteOffset(msg.Text, entity.Length)
		}
	}
	return 0, false
}

// utf16ToByteOffset converts an entity offset, which Telegram counts in
// UTF-16 code units, to a byte index into s.
func utf16ToByteOffset(s string, units int) (int, bool) {
	if units < 0 {
		return 0, false
	}
	n := 0
	for i, r := range s {
		if n == units {
			return i, true
		}
		if n > units {
			return 0, false
		}
		n += utf16.RuneLen(r)
	}
	if n == units {
		return len(s), true
	}
	return 0, false
}

// IsPrivateChat checks if the message is from a private chat.
func IsPrivateChat(msg *Message) bool {
	return msg != nil && msg.Chat != nil && msg.Chat.Type == ChatTypePrivate
}
