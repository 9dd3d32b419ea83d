// Package main - точка входа Telegram-бота для Moodle.
//
// Бот связывает аккаунт Telegram с токеном веб-сервисов Moodle и
// показывает по нему предстоящие события и активные курсы.
//
// Слои:
// - Domain: аккаунты, токены, учебные данные
// - Application: сценарий регистрации и запросы к Moodle
// - Infrastructure: PostgreSQL, Redis, клиенты Moodle и Telegram
// - Interface: обработчики Telegram, HTTP (пробы, метрики, webhook)
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/null2264/MoodleBot/config"

	// Application layer
	"github.com/null2264/MoodleBot/internal/application/query"
	"github.com/null2264/MoodleBot/internal/application/saga"

	// Domain layer
	"github.com/null2264/MoodleBot/internal/domain/account"

	// Infrastructure layer
	"github.com/null2264/MoodleBot/internal/infrastructure/external/moodle"
	tgapi "github.com/null2264/MoodleBot/internal/infrastructure/external/telegram"
	"github.com/null2264/MoodleBot/internal/infrastructure/persistence/postgres"
	"github.com/null2264/MoodleBot/internal/infrastructure/persistence/redis"

	// Interface layer
	httpserver "github.com/null2264/MoodleBot/internal/interface/http"
	"github.com/null2264/MoodleBot/internal/interface/http/handlers"
	"github.com/null2264/MoodleBot/internal/interface/telegram"
	"github.com/null2264/MoodleBot/internal/interface/telegram/middleware"
	"github.com/null2264/MoodleBot/internal/interface/telegram/presenter"

	// Packages
	"github.com/null2264/MoodleBot/pkg/circuitbreaker"
	"github.com/null2264/MoodleBot/pkg/logger"
	"github.com/null2264/MoodleBot/pkg/timeutil"
	"github.com/null2264/MoodleBot/pkg/tokenseal"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	rollback := flag.Bool("rollback", false, "roll back the last applied migration and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *rollback); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, rollback bool) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log, logCloser := setupLogger(cfg)
	defer logCloser.Close()

	log.Info("starting Moodle bot",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	if err := timeutil.LoadLocation(cfg.App.Timezone); err != nil {
		return err
	}
	log.Info("display timezone", "location", timeutil.Location().String())

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	poolOpts := postgres.DefaultPoolOptions()
	poolOpts.MaxConns = cfg.Database.MaxConns
	poolOpts.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	poolOpts.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, poolOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	migrator := postgres.NewMigrator(dbConn)
	if rollback {
		if err := migrator.Rollback(ctx); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		log.Info("last migration rolled back")
		return nil
	}

	log.Info("running database migrations...")
	applied, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("migrations completed", "applied", applied)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ХРАНИЛИЩЕ ТОКЕНОВ (+ Redis, опционально)
	// ─────────────────────────────────────────────────────────────────────────
	sealer, err := tokenseal.New(cfg.Database.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("invalid TOKEN_ENCRYPTION_KEY: %w", err)
	}
	if !sealer.Enabled() {
		log.Warn("TOKEN_ENCRYPTION_KEY is not set, tokens are stored unencrypted and not cached in Redis")
	}

	var tokens account.TokenStore = postgres.NewTokenRepository(dbConn, sealer)
	var locker saga.Locker

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.SetTimeout(2 * time.Second)
	health.AddCheck("postgres", handlers.NewPingCheck(dbConn))

	if cfg.Redis.Enabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB

		redisCache, err := redis.NewCache(redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisCache.Close()

		tokens = redis.NewTokenCache(tokens, redisCache, sealer, cfg.Redis.TokenTTL, log)
		// Два ответа плюс запрос к Moodle.
		locker = redis.NewRegistrationLocker(redisCache, 3*cfg.Registration.PromptTimeout)
		health.AddCheck("redis", handlers.NewPingCheck(redisCache))
		log.Info("Redis connection established")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ВНЕШНИЕ КЛИЕНТЫ
	// ─────────────────────────────────────────────────────────────────────────
	moodleConfig := moodle.DefaultClientConfig(cfg.Moodle.BaseURL)
	moodleConfig.Service = cfg.Moodle.Service
	moodleConfig.Timeout = cfg.Moodle.RequestTimeout
	moodleConfig.RequestsPerSecond = cfg.Moodle.RequestsPerSecond
	moodleConfig.Burst = cfg.Moodle.Burst
	moodleConfig.Logger = log
	moodleClient := moodle.NewClient(moodleConfig)

	tgConfig := tgapi.DefaultClientConfig(cfg.Telegram.Token)
	tgConfig.PollTimeout = cfg.Telegram.PollTimeout
	tgConfig.Logger = log
	tgClient := tgapi.NewClient(tgConfig)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	managerConfig := saga.DefaultManagerConfig()
	managerConfig.PromptTimeout = cfg.Registration.PromptTimeout

	registrations := saga.NewRegistrationManager(
		tokens,
		moodleClient,
		telegram.NewNotifier(tgClient, log),
		locker,
		nil,
		managerConfig,
		log,
	)
	coursework := query.NewCourseworkService(tokens, moodleClient, nil, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. TELEGRAM BOT
	// ─────────────────────────────────────────────────────────────────────────
	botConfig := telegram.DefaultBotConfig()
	botConfig.Mode = cfg.Telegram.Mode
	botConfig.WebhookURL = cfg.Telegram.WebhookURL
	botConfig.WebhookSecret = cfg.Telegram.WebhookSecret
	botConfig.MaxConcurrentUpdates = cfg.Telegram.MaxConcurrentUpdates
	botConfig.GracefulShutdownTimeout = cfg.App.ShutdownTimeout
	botConfig.Debug = cfg.App.Debug
	botConfig.Logger = log
	botConfig.RateLimit = middleware.DefaultRateLimitConfig()
	botConfig.RateLimit.RequestsPerMinute = cfg.Telegram.UserRateLimit
	botConfig.RateLimit.BanDuration = cfg.Telegram.UserRateLimitBan

	bot, err := telegram.NewBot(tgClient, botConfig, telegram.BotDependencies{
		Registrations: registrations,
		Coursework:    coursework,
		Pages:         presenter.NewPageStore(presenter.DefaultPageTTL),
	})
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.WebhookPath = cfg.HTTP.WebhookPath
	httpConfig.EnableMetrics = cfg.Observability.MetricsEnabled

	httpDeps := httpserver.Dependencies{
		Logger:        log,
		HealthChecker: health,
		Stats:         collectStats(bot, registrations, moodleClient),
	}
	if cfg.Telegram.Mode == config.ModeWebhook {
		httpDeps.Webhook = handlers.NewTelegramWebhook(bot, cfg.Telegram.WebhookSecret, log)
		log.Info("webhook endpoint enabled",
			"path", httpConfig.WebhookPath,
			logger.Secret("secret", cfg.Telegram.WebhookSecret),
		)
	}
	httpServer := httpserver.NewServer(httpConfig, httpDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 2)

	httpErrCh := httpServer.StartAsync()
	go func() {
		if err := <-httpErrCh; err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	botCtx, stopBot := context.WithCancel(ctx)
	defer stopBot()
	go func() {
		if err := bot.Start(botCtx); err != nil {
			errCh <- fmt.Errorf("telegram bot error: %w", err)
		}
	}()

	log.Info("Moodle bot is running",
		"http_address", httpConfig.Address(),
		"telegram_mode", cfg.Telegram.Mode,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case runErr = <-errCh:
		log.Error("service error", logger.Err(runErr))
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	// 1. Перестаём получать апдейты и дожидаемся обработчиков.
	stopBot()
	if err := bot.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop bot gracefully", logger.Err(err))
	}

	// 2. Прерываем незавершённые регистрации и снимаем блокировки.
	registrations.Shutdown(shutdownCtx)

	// 3. HTTP сервер.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
	}

	// Redis и база данных закроются через defer.
	log.Info("shutdown completed")
	return runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}
	// Без явного LOG_FORMAT: текст в development, JSON в остальных окружениях.
	switch cfg.Observability.LogFormat {
	case "json":
		opts.JSON = true
	case "text":
		opts.JSON = false
	default:
		opts.JSON = !cfg.IsDevelopment()
	}
	opts.FilePath = cfg.Observability.LogFile

	log, closer := logger.New(opts)
	slog.SetDefault(log)
	return log, closer
}

// collectStats объединяет счётчики бота, число активных регистраций
// и состояние circuit breaker клиента Moodle для /stats.
func collectStats(
	bot interface{ GetStats() map[string]any },
	registrations interface{ ActiveCount() int },
	moodleClient interface{ BreakerState() circuitbreaker.State },
) func() map[string]any {
	return func() map[string]any {
		stats := bot.GetStats()
		stats["active_registrations"] = registrations.ActiveCount()
		stats["moodle_circuit"] = moodleClient.BreakerState().String()
		return stats
	}
}
