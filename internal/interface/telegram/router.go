package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/null2264/MoodleBot/internal/domain/shared"
	"github.com/null2264/MoodleBot/internal/infrastructure/external/telegram"
	"github.com/null2264/MoodleBot/internal/interface/telegram/handler"
	"github.com/null2264/MoodleBot/internal/interface/telegram/middleware"
	"github.com/null2264/MoodleBot/internal/interface/telegram/presenter"
	"github.com/null2264/MoodleBot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables debug logging for routing decisions.
	Debug bool

	// Auth guards commands that need a stored token. Optional.
	Auth *middleware.AuthMiddleware

	// Metrics records per-command metrics. Optional.
	Metrics *middleware.MetricsMiddleware
}

// Messenger is the part of the Telegram client the router needs.
type Messenger interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int64, text string, parseMode string, keyboard *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	EditMessageKeyboard(ctx context.Context, chatID int64, messageID int64, keyboard *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string, showAlert bool) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER TYPES
// ══════════════════════════════════════════════════════════════════════════════

// CommandFunc handles one command.
type CommandFunc func(ctx context.Context, req handler.CommandRequest) (*handler.Response, error)

// CallbackFunc handles callback queries with a registered prefix.
type CallbackFunc func(ctx context.Context, req handler.CallbackRequest) (*handler.CallbackResponse, error)

// TextInputFunc handles plain text. It reports whether the text was consumed.
type TextInputFunc func(ctx context.Context, input TextInput) bool

// TextInput is a non-command text message.
type TextInput struct {
	TelegramID int64
	ChatID     int64
	Private    bool
	Text       string
}

// CallbackQuery is a parsed callback query.
type CallbackQuery struct {
	QueryID string
	Request handler.CallbackRequest
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// ══════════════════════════════════════════════════════════════════════════════

// Router routes Telegram updates to handlers and sends their replies.
type Router struct {
	config    RouterConfig
	logger    *slog.Logger
	messenger Messenger

	mu        sync.RWMutex
	commands  map[string]CommandFunc
	callbacks map[string]CallbackFunc
	textInput TextInputFunc
}

// NewRouter creates a new router.
func NewRouter(messenger Messenger, config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	r := &Router{
		config:    config,
		logger:    config.Logger.With(logger.Component("router")),
		messenger: messenger,
		commands:  make(map[string]CommandFunc),
		callbacks: make(map[string]CallbackFunc),
	}
	r.RegisterCallbackPrefix("cmd:", r.commandCallback)

	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION METHODS
// ══════════════════════════════════════════════════════════════════════════════

// RegisterCommand registers a handler for a command without the leading "/".
func (r *Router) RegisterCommand(command string, fn CommandFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[command] = fn

	if r.config.Debug {
		r.logger.Debug("registered command handler", slog.String("command", command))
	}
}

// RegisterCallbackPrefix registers a handler for callbacks with the prefix.
// The prefix includes its trailing delimiter, e.g. "page:".
func (r *Router) RegisterCallbackPrefix(prefix string, fn CallbackFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[prefix] = fn

	if r.config.Debug {
		r.logger.Debug("registered callback prefix handler", slog.String("prefix", prefix))
	}
}

// RegisterTextInputHandler registers the handler for plain text.
func (r *Router) RegisterTextInputHandler(fn TextInputFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textInput = fn
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING METHODS
// ══════════════════════════════════════════════════════════════════════════════

// HandleCommand runs a command and sends its reply to the originating chat.
func (r *Router) HandleCommand(ctx context.Context, command string, req handler.CommandRequest) error {
	r.mu.RLock()
	fn, ok := r.commands[command]
	r.mu.RUnlock()

	if !ok {
		if r.config.Debug {
			r.logger.DebugContext(ctx, "no handler for command", slog.String("command", command))
		}
		// Groups host other bots; only answer unknown commands in private.
		if !req.Private {
			return nil
		}
		return r.send(ctx, req, presenter.MsgUnknownCommand, nil)
	}

	var rc *middleware.RequestContext
	if r.config.Metrics != nil {
		rc = r.config.Metrics.Start(command, req.TelegramID)
	}
	status := middleware.StatusOK
	defer func() {
		if rc != nil {
			rc.End(status)
		}
	}()

	if r.config.Auth != nil {
		res, err := r.config.Auth.Authenticate(ctx, req.TelegramID, command)
		if err != nil {
			status = middleware.StatusError
			r.logger.ErrorContext(ctx, "registration check failed",
				slog.String("command", command),
				logger.TelegramID(req.TelegramID),
				logger.Err(err),
			)
			return r.send(ctx, req, presenter.MsgInternalError, nil)
		}
		if !res.ShouldContinue {
			status = middleware.StatusNotRegistered
			return r.send(ctx, req, presenter.MsgNotRegistered, nil)
		}
	}

	resp, err := fn(ctx, req)
	if err != nil {
		var text string
		text, status = r.replyForError(ctx, command, req.TelegramID, err)
		return r.send(ctx, req, text, nil)
	}
	if resp == nil {
		return nil
	}
	return r.send(ctx, req, resp.Text, resp.Keyboard)
}

// replyForError maps a handler error to the user-facing reply and metric label.
func (r *Router) replyForError(ctx context.Context, command string, telegramID int64, err error) (string, string) {
	switch {
	case errors.Is(err, shared.ErrNotRegistered):
		return presenter.MsgNotRegistered, middleware.StatusNotRegistered
	case errors.Is(err, shared.ErrRegistrationInProgress):
		return presenter.MsgRegistrationBusy, middleware.StatusBusy
	case errors.Is(err, shared.ErrUnauthorized):
		r.logger.WarnContext(ctx, "moodle rejected stored token",
			slog.String("command", command),
			logger.TelegramID(telegramID),
		)
		return presenter.MsgTokenRejected, middleware.StatusRejected
	case shared.IsExternalService(err):
		r.logger.WarnContext(ctx, "moodle unavailable",
			slog.String("command", command),
			logger.TelegramID(telegramID),
			logger.Err(err),
		)
		return presenter.MsgRemoteUnavailable, middleware.StatusUnavailable
	case shared.IsNotFound(err):
		r.logger.WarnContext(ctx, "moodle returned no result",
			slog.String("command", command),
			logger.TelegramID(telegramID),
			logger.Err(err),
		)
		return presenter.MsgNotFound, middleware.StatusNotFound
	}

	status := middleware.StatusError
	var pe *middleware.PanicError
	if errors.As(err, &pe) {
		status = middleware.StatusPanic
	} else {
		r.logger.ErrorContext(ctx, "command failed",
			slog.String("command", command),
			logger.TelegramID(telegramID),
			logger.Err(err),
		)
	}
	return presenter.MsgInternalError, status
}

// HandleCallback routes a callback query by its longest matching prefix and
// always answers it so the client stops showing a spinner.
func (r *Router) HandleCallback(ctx context.Context, cq CallbackQuery) error {
	data := cq.Request.Data

	r.mu.RLock()
	var matched string
	var fn CallbackFunc
	for prefix, h := range r.callbacks {
		if strings.HasPrefix(data, prefix) && len(prefix) > len(matched) {
			matched, fn = prefix, h
		}
	}
	r.mu.RUnlock()

	if fn == nil {
		r.logger.WarnContext(ctx, "unknown callback", slog.String("data", data))
		return r.messenger.AnswerCallbackQuery(ctx, cq.QueryID, "", false)
	}

	resp, err := fn(ctx, cq.Request)
	if err != nil {
		r.logger.ErrorContext(ctx, "callback failed",
			slog.String("prefix", matched),
			logger.TelegramID(cq.Request.TelegramID),
			logger.Err(err),
		)
		return r.messenger.AnswerCallbackQuery(ctx, cq.QueryID, presenter.MsgInternalError, false)
	}
	if resp == nil {
		resp = &handler.CallbackResponse{}
	}

	answerErr := r.messenger.AnswerCallbackQuery(ctx, cq.QueryID, resp.Answer, resp.ShowAlert)

	req := cq.Request
	switch {
	case resp.Edit != nil:
		_, err = r.messenger.EditMessageText(ctx, req.ChatID, req.MessageID,
			resp.Edit.Text, resp.Edit.ParseMode, convertKeyboard(resp.Edit.Keyboard))
	case resp.RemoveKeyboard:
		err = r.messenger.EditMessageKeyboard(ctx, req.ChatID, req.MessageID, nil)
	}

	return errors.Join(answerErr, err)
}

// HandleTextInput passes plain text to the registered text handler.
func (r *Router) HandleTextInput(ctx context.Context, input TextInput) bool {
	r.mu.RLock()
	fn := r.textInput
	r.mu.RUnlock()

	if fn == nil {
		return false
	}
	return fn(ctx, input)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMAND CALLBACKS
// cmd:<command> - кнопки клавиатуры /help запускают обычную команду.
// ══════════════════════════════════════════════════════════════════════════════

func (r *Router) commandCallback(ctx context.Context, req handler.CallbackRequest) (*handler.CallbackResponse, error) {
	command := strings.TrimPrefix(req.Data, "cmd:")
	if command == "" {
		return nil, nil
	}

	cmdReq := handler.CommandRequest{
		TelegramID: req.TelegramID,
		FirstName:  req.FirstName,
		ChatID:     req.ChatID,
		MessageID:  req.MessageID,
		Private:    req.Private,
	}

	if err := r.HandleCommand(ctx, command, cmdReq); err != nil {
		return nil, err
	}
	return nil, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// send replies in the chat the command came from. In groups the reply is
// threaded to the command message.
func (r *Router) send(ctx context.Context, req handler.CommandRequest, text string, keyboard *presenter.InlineKeyboard) error {
	params := telegram.SendMessageParams{
		ChatID:            req.ChatID,
		Text:              text,
		ParseMode:         presenter.ParseModeHTML,
		DisableWebPreview: true,
		ReplyMarkup:       convertKeyboard(keyboard),
	}
	if !req.Private {
		params.ReplyToMessageID = req.MessageID
	}

	_, err := r.messenger.SendMessage(ctx, params)
	return err
}

// convertKeyboard converts presenter.InlineKeyboard to telegram.InlineKeyboardMarkup.
func convertKeyboard(kb *presenter.InlineKeyboard) *telegram.InlineKeyboardMarkup {
	if kb == nil || kb.IsEmpty() {
		return nil
	}

	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: make([][]telegram.InlineKeyboardButton, len(kb.Rows)),
	}
	for i, row := range kb.Rows {
		markup.InlineKeyboard[i] = make([]telegram.InlineKeyboardButton, len(row))
		for j, btn := range row {
			markup.InlineKeyboard[i][j] = telegram.InlineKeyboardButton{
				Text:         btn.Text,
				CallbackData: btn.CallbackData,
				URL:          btn.URL,
			}
		}
	}
	return markup
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTE INFO
// ══════════════════════════════════════════════════════════════════════════════

// RegisteredCommands returns the registered command names.
func (r *Router) RegisteredCommands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands := make([]string, 0, len(r.commands))
	for cmd := range r.commands {
		commands = append(commands, cmd)
	}
	return commands
}
