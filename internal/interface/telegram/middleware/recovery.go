package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"github.com/null2264/MoodleBot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// Перехватывает панику в обработчиках. Пользователь получает короткое
// сообщение об ошибке, в лог уходит стек.
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace enables capturing stack traces.
	EnableStackTrace bool

	// MaxPanicsPerMinute limits how many panics are logged with details.
	MaxPanicsPerMinute int

	// OnPanic is called for every logged panic.
	OnPanic func(ctx context.Context, info *PanicInfo)

	// Logger receives panic reports.
	Logger *slog.Logger
}

// DefaultRecoveryConfig returns sensible defaults for recovery middleware.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace:   true,
		MaxPanicsPerMinute: 100,
	}
}

// PanicInfo contains information about a recovered panic.
type PanicInfo struct {
	Error      error
	StackTrace string
	TelegramID int64
	Command    string
	Timestamp  time.Time
}

// RecoveryMiddleware recovers from panics in update handlers.
type RecoveryMiddleware struct {
	config RecoveryConfig
	logger *slog.Logger
	budget *rate.Limiter
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	perMinute := config.MaxPanicsPerMinute
	if perMinute <= 0 {
		perMinute = DefaultRecoveryConfig().MaxPanicsPerMinute
	}

	return &RecoveryMiddleware{
		config: config,
		logger: log.With(logger.Component("recovery")),
		budget: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
}

// Run executes handler and converts a panic into a *PanicError.
// command names the update kind or command being processed.
func (m *RecoveryMiddleware) Run(ctx context.Context, telegramID int64, command string, handler func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		info := &PanicInfo{
			Error:      toError(r),
			TelegramID: telegramID,
			Command:    command,
			Timestamp:  time.Now(),
		}
		if m.config.EnableStackTrace {
			info.StackTrace = string(debug.Stack())
		}
		m.report(ctx, info)

		err = &PanicError{Info: info}
	}()

	return handler()
}

func (m *RecoveryMiddleware) report(ctx context.Context, info *PanicInfo) {
	if !m.budget.Allow() {
		return
	}

	attrs := []any{
		logger.TelegramID(info.TelegramID),
		slog.String("command", info.Command),
		logger.Err(info.Error),
	}
	if info.StackTrace != "" {
		attrs = append(attrs, slog.String("stack", info.StackTrace))
	}
	m.logger.ErrorContext(ctx, "panic recovered", attrs...)

	if m.config.OnPanic != nil {
		m.config.OnPanic(ctx, info)
	}
}

// PanicError is returned by Run when the handler panicked.
type PanicError struct {
	Info *PanicInfo
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s handler: %v", e.Info.Command, e.Info.Error)
}

func (e *PanicError) Unwrap() error {
	return e.Info.Error
}

func toError(v any) error {
	switch v := v.(type) {
	case error:
		return v
	case string:
		return fmt.Errorf("%s", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}
