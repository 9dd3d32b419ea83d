// Package telegram implements the Telegram interface of the Moodle bot.
// This package is the entry point for all Telegram interactions, handling
// updates, routing them to handlers, and managing the bot lifecycle.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/null2264/MoodleBot/internal/application/saga"
	"github.com/null2264/MoodleBot/internal/domain/account"
	"github.com/null2264/MoodleBot/internal/infrastructure/external/telegram"
	"github.com/null2264/MoodleBot/internal/infrastructure/metrics"
	"github.com/null2264/MoodleBot/internal/interface/telegram/handler"
	"github.com/null2264/MoodleBot/internal/interface/telegram/middleware"
	"github.com/null2264/MoodleBot/internal/interface/telegram/presenter"
	"github.com/null2264/MoodleBot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Update receiving modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// Mode is the update receiving mode: "polling" or "webhook".
	Mode string

	// WebhookURL is the public URL Telegram posts updates to (webhook mode).
	WebhookURL string

	// WebhookSecret is echoed by Telegram in X-Telegram-Bot-Api-Secret-Token.
	WebhookSecret string

	// Debug enables debug logging.
	Debug bool

	// Logger for structured logging.
	Logger *slog.Logger

	// MaxConcurrentUpdates limits concurrent update processing.
	MaxConcurrentUpdates int

	// GracefulShutdownTimeout bounds how long Stop waits for handlers.
	GracefulShutdownTimeout time.Duration

	// RateLimit configures per-user command limits.
	RateLimit middleware.RateLimitConfig
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Mode:                    ModePolling,
		Logger:                  slog.Default(),
		MaxConcurrentUpdates:    100,
		GracefulShutdownTimeout: 30 * time.Second,
		RateLimit:               middleware.DefaultRateLimitConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Registrations starts registration flows and feeds them replies.
type Registrations interface {
	handler.RegistrationStarter
	HandleMessage(ctx context.Context, msg saga.Message) bool
}

// Coursework answers data commands and registration checks.
type Coursework interface {
	handler.CourseworkQuerier
	middleware.RegistrationChecker
}

// BotDependencies contains all dependencies for the bot handlers.
type BotDependencies struct {
	Registrations Registrations
	Coursework    Coursework
	Pages         *presenter.PageStore
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the main Telegram bot controller.
type Bot struct {
	config BotConfig
	client *telegram.Client
	router *Router
	logger *slog.Logger

	// Middleware chain
	rateLimiter        *middleware.RateLimiter
	recoveryMiddleware *middleware.RecoveryMiddleware
	metricsMiddleware  *middleware.MetricsMiddleware

	// Lifecycle management
	running   bool
	runningMu sync.RWMutex
	updateSem chan struct{}
	wg        sync.WaitGroup

	// Updates run detached from the receiving request; baseCtx is
	// cancelled only when Stop gives up waiting.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	// Per-user queues keep one user's updates in order.
	queueMu sync.Mutex
	queues  map[int64][]*telegram.Update

	stats *BotStats
}

// BotStats holds runtime statistics.
type BotStats struct {
	mu              sync.RWMutex
	StartedAt       time.Time
	UpdatesReceived int64
	UpdatesHandled  int64
	ErrorsCount     int64
}

// NewBot creates a new Telegram bot with all dependencies.
func NewBot(client *telegram.Client, config BotConfig, deps BotDependencies) (*Bot, error) {
	if client == nil {
		return nil, errors.New("telegram client is required")
	}
	if deps.Registrations == nil || deps.Coursework == nil {
		return nil, errors.New("registrations and coursework are required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrentUpdates <= 0 {
		config.MaxConcurrentUpdates = DefaultBotConfig().MaxConcurrentUpdates
	}
	if config.Mode == "" {
		config.Mode = ModePolling
	}
	if deps.Pages == nil {
		deps.Pages = presenter.NewPageStore(0)
	}

	log := config.Logger.With(logger.Component("bot"))

	// Create presenters
	keyboards := presenter.NewKeyboardBuilder()

	// Create handlers
	startHandler := handler.NewStartHandler(keyboards)
	registerHandler := handler.NewRegisterHandler(deps.Registrations)
	courseworkHandler := handler.NewCourseworkHandler(deps.Coursework, deps.Pages, keyboards)
	pageHandler := handler.NewPageHandler(deps.Pages, keyboards)

	// Create middleware
	authMiddleware := middleware.NewAuthMiddleware(deps.Coursework, middleware.DefaultAuthConfig())
	rateLimiter := middleware.NewRateLimiter(config.RateLimit)
	recoveryConfig := middleware.DefaultRecoveryConfig()
	recoveryConfig.Logger = config.Logger
	recoveryMiddleware := middleware.NewRecoveryMiddleware(recoveryConfig)
	metricsConfig := middleware.DefaultMetricsConfig()
	metricsConfig.OnSlowRequest = func(command string, d time.Duration, telegramID int64) {
		log.Warn("slow command",
			slog.String("command", command),
			logger.TelegramID(telegramID),
			logger.Latency(d),
		)
	}
	metricsMiddleware := middleware.NewMetricsMiddleware(metricsConfig)

	// Create router with all handlers
	router := NewRouter(client, RouterConfig{
		Logger:  config.Logger,
		Debug:   config.Debug,
		Auth:    authMiddleware,
		Metrics: metricsMiddleware,
	})

	router.RegisterCommand("start", startHandler.Start)
	router.RegisterCommand("help", startHandler.Help)
	router.RegisterCommand("register", registerHandler.Handle)
	router.RegisterCommand("homework", courseworkHandler.Homework)
	router.RegisterCommand("courses", courseworkHandler.Courses)
	router.RegisterCommand("id", courseworkHandler.MoodleID)

	router.RegisterCallbackPrefix("page:", pageHandler.Handle)

	registrations := deps.Registrations
	router.RegisterTextInputHandler(func(ctx context.Context, in TextInput) bool {
		return registrations.HandleMessage(ctx, saga.Message{
			ChatID:  in.ChatID,
			Private: in.Private,
			From:    account.UserIDFromInt(in.TelegramID),
			Text:    in.Text,
		})
	})

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Bot{
		config:             config,
		client:             client,
		router:             router,
		logger:             log,
		rateLimiter:        rateLimiter,
		recoveryMiddleware: recoveryMiddleware,
		metricsMiddleware:  metricsMiddleware,
		updateSem:          make(chan struct{}, config.MaxConcurrentUpdates),
		baseCtx:            baseCtx,
		baseCancel:         cancel,
		queues:             make(map[int64][]*telegram.Update),
		stats:              &BotStats{},
	}, nil
}

// BotCommands is the command menu published to Telegram.
var BotCommands = []telegram.BotCommand{
	{Command: "register", Description: "Link your Moodle account"},
	{Command: "homework", Description: "Upcoming events and deadlines"},
	{Command: "courses", Description: "Your active courses"},
	{Command: "id", Description: "Your Moodle user id"},
	{Command: "help", Description: "How to use this bot"},
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Start verifies the token, publishes the command menu and receives updates
// until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	b.runningMu.Lock()
	if b.running {
		b.runningMu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.runningMu.Unlock()

	b.stats.mu.Lock()
	b.stats.StartedAt = time.Now()
	b.stats.mu.Unlock()

	b.logger.Info("starting telegram bot",
		slog.String("mode", b.config.Mode),
		slog.Bool("debug", b.config.Debug),
	)

	if err := b.verifyToken(ctx); err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}

	if err := b.client.SetMyCommands(ctx, BotCommands); err != nil {
		b.logger.Warn("failed to publish command menu", logger.Err(err))
	}

	switch b.config.Mode {
	case ModePolling:
		return b.startPolling(ctx)
	case ModeWebhook:
		return b.startWebhook(ctx)
	default:
		return fmt.Errorf("unknown bot mode: %s", b.config.Mode)
	}
}

// Stop waits for in-flight updates, then cancels whatever is left.
func (b *Bot) Stop(ctx context.Context) error {
	b.runningMu.Lock()
	if !b.running {
		b.runningMu.Unlock()
		b.baseCancel()
		b.rateLimiter.Stop()
		return nil
	}
	b.running = false
	b.runningMu.Unlock()

	b.logger.Info("stopping telegram bot")
	defer b.rateLimiter.Stop()
	defer b.baseCancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	timeout := b.config.GracefulShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultBotConfig().GracefulShutdownTimeout
	}

	select {
	case <-done:
		b.logger.Info("all handlers completed gracefully")
	case <-time.After(timeout):
		b.logger.Warn("graceful shutdown timeout exceeded")
	case <-ctx.Done():
		b.logger.Warn("context cancelled during shutdown")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the bot is currently running.
func (b *Bot) IsRunning() bool {
	b.runningMu.RLock()
	defer b.runningMu.RUnlock()
	return b.running
}

func (b *Bot) verifyToken(ctx context.Context) error {
	me, err := b.client.GetMe(ctx)
	if err != nil {
		return err
	}
	b.logger.Info("bot verified",
		slog.Int64("id", me.ID),
		slog.String("username", me.Username),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// POLLING / WEBHOOK MODE
// ══════════════════════════════════════════════════════════════════════════════

func (b *Bot) startPolling(ctx context.Context) error {
	// A webhook left over from an earlier deployment blocks getUpdates.
	if err := b.client.DeleteWebhook(ctx, false); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return b.client.StartPolling(ctx, b.Dispatch)
}

// startWebhook registers the webhook and blocks until ctx is cancelled.
// Updates arrive through the HTTP server, which calls Dispatch.
func (b *Bot) startWebhook(ctx context.Context) error {
	if b.config.WebhookURL == "" {
		return errors.New("webhook URL is required for webhook mode")
	}

	if err := b.client.SetWebhook(ctx, b.config.WebhookURL, b.config.WebhookSecret, b.config.MaxConcurrentUpdates); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	b.logger.Info("webhook registered")

	<-ctx.Done()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE DISPATCH
// ══════════════════════════════════════════════════════════════════════════════

// Dispatch queues an update and returns immediately. Updates from the same
// user are processed in arrival order; different users run concurrently.
func (b *Bot) Dispatch(_ context.Context, update *telegram.Update) error {
	if update == nil {
		return nil
	}
	key := updateSenderID(update)

	b.queueMu.Lock()
	queue, busy := b.queues[key]
	b.queues[key] = append(queue, update)
	if !busy {
		b.wg.Add(1)
		go b.drain(key)
	}
	b.queueMu.Unlock()

	return nil
}

func (b *Bot) drain(key int64) {
	defer b.wg.Done()

	for {
		b.queueMu.Lock()
		queue := b.queues[key]
		if len(queue) == 0 {
			delete(b.queues, key)
			b.queueMu.Unlock()
			return
		}
		update := queue[0]
		b.queues[key] = queue[1:]
		b.queueMu.Unlock()

		if err := b.HandleUpdate(b.baseCtx, update); err != nil {
			b.logger.Error("failed to handle update",
				slog.Int64("update_id", update.UpdateID),
				logger.Err(err),
			)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// HandleUpdate processes a single update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, update *telegram.Update) error {
	select {
	case b.updateSem <- struct{}{}:
		defer func() { <-b.updateSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	b.stats.mu.Lock()
	b.stats.UpdatesReceived++
	b.stats.mu.Unlock()

	ctx = middleware.ContextWithTelegramID(ctx, updateSenderID(update))
	ctx = middleware.ContextWithRequestID(ctx, uuid.NewString())

	var err error
	switch {
	case update.Message != nil:
		metrics.BotUpdatesTotal.WithLabelValues("message").Inc()
		err = b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		metrics.BotUpdatesTotal.WithLabelValues("callback_query").Inc()
		err = b.handleCallbackQuery(ctx, update.CallbackQuery)
	default:
		metrics.BotUpdatesTotal.WithLabelValues("other").Inc()
		return nil
	}

	b.stats.mu.Lock()
	if err != nil {
		b.stats.ErrorsCount++
	} else {
		b.stats.UpdatesHandled++
	}
	b.stats.mu.Unlock()

	return err
}

// handleMessage processes a Telegram message. Message text is never logged:
// during registration it carries credentials.
func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) error {
	if msg.From == nil || msg.From.IsBot || msg.Chat == nil {
		return nil
	}

	input := TextInput{
		TelegramID: msg.From.ID,
		ChatID:     msg.Chat.ID,
		Private:    telegram.IsPrivateChat(msg),
		Text:       msg.Text,
	}

	// Ожидающая регистрация получает любой ответ в ЛС, даже начинающийся с "/".
	if input.Private && input.Text != "" && b.router.HandleTextInput(ctx, input) {
		return nil
	}

	if command := telegram.ExtractCommand(msg); command != "" {
		return b.handleCommand(ctx, msg, command)
	}

	if !input.Private && input.Text != "" {
		b.router.HandleTextInput(ctx, input)
	}
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message, command string) error {
	req := handler.CommandRequest{
		TelegramID: msg.From.ID,
		FirstName:  msg.From.FirstName,
		ChatID:     msg.Chat.ID,
		MessageID:  msg.MessageID,
		Private:    telegram.IsPrivateChat(msg),
		Args:       telegram.ExtractCommandArgs(msg),
	}

	if b.config.Debug {
		b.logger.DebugContext(ctx, "command received",
			slog.String("command", command),
			logger.TelegramID(req.TelegramID),
		)
	}

	limit := b.rateLimiter.Check(ctx, req.TelegramID)
	if !limit.Allowed {
		if !limit.ShouldNotify {
			return nil
		}
		return b.router.send(ctx, req, presenter.MsgRateLimited, nil)
	}

	err := b.recoveryMiddleware.Run(ctx, req.TelegramID, command, func() error {
		return b.router.HandleCommand(ctx, command, req)
	})

	var pe *middleware.PanicError
	if errors.As(err, &pe) {
		return errors.Join(err, b.router.send(ctx, req, presenter.MsgInternalError, nil))
	}
	return err
}

// handleCallbackQuery processes a callback query from an inline keyboard.
func (b *Bot) handleCallbackQuery(ctx context.Context, cq *telegram.CallbackQuery) error {
	if cq.From == nil {
		return nil
	}

	req := handler.CallbackRequest{
		TelegramID: cq.From.ID,
		FirstName:  cq.From.FirstName,
		Data:       cq.Data,
	}
	if cq.Message != nil && cq.Message.Chat != nil {
		req.ChatID = cq.Message.Chat.ID
		req.MessageID = cq.Message.MessageID
		req.Private = telegram.IsPrivateChat(cq.Message)
	}

	limit := b.rateLimiter.Check(ctx, req.TelegramID)
	if !limit.Allowed {
		return b.client.AnswerCallbackQuery(ctx, cq.ID, presenter.MsgRateLimited, false)
	}

	err := b.recoveryMiddleware.Run(ctx, req.TelegramID, "callback", func() error {
		return b.router.HandleCallback(ctx, CallbackQuery{QueryID: cq.ID, Request: req})
	})

	var pe *middleware.PanicError
	if errors.As(err, &pe) {
		_ = b.client.AnswerCallbackQuery(ctx, cq.ID, presenter.MsgInternalError, false)
	}
	return err
}

// updateSenderID extracts the Telegram user ID from an update.
func updateSenderID(update *telegram.Update) int64 {
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From.ID
	}
	if update.CallbackQuery != nil && update.CallbackQuery.From != nil {
		return update.CallbackQuery.From.ID
	}
	return 0
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// GetStats returns current bot statistics.
func (b *Bot) GetStats() map[string]any {
	b.stats.mu.RLock()
	defer b.stats.mu.RUnlock()

	snap := b.metricsMiddleware.Snapshot()
	commands := make(map[string]int64, len(snap.Commands))
	for name, c := range snap.Commands {
		commands[name] = c.TotalCount
	}

	var uptime time.Duration
	if !b.stats.StartedAt.IsZero() {
		uptime = time.Since(b.stats.StartedAt)
	}

	return map[string]any{
		"started_at":       b.stats.StartedAt,
		"uptime":           uptime.String(),
		"updates_received": b.stats.UpdatesReceived,
		"updates_handled":  b.stats.UpdatesHandled,
		"errors_count":     b.stats.ErrorsCount,
		"commands_count":   commands,
		"command_errors":   snap.TotalErrors,
		"running":          b.IsRunning(),
	}
}

// Router returns the router for handler registration.
func (b *Bot) Router() *Router {
	return b.router
}
