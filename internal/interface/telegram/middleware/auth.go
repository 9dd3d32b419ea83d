// Package middleware contains Telegram bot middlewares for request processing.
// These middlewares wrap every incoming update before it reaches a handler:
// panic recovery, rate limiting, the registration check and metrics.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/null2264/MoodleBot/internal/domain/account"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT KEYS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const (
	// TelegramIDContextKey is the context key for the Telegram user ID.
	TelegramIDContextKey contextKey = "telegram_id"

	// RequestIDContextKey is the context key for request tracing.
	RequestIDContextKey contextKey = "request_id"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTH MIDDLEWARE
// Проверяет, что у пользователя сохранён токен Moodle, прежде чем
// пропустить команду, которой он нужен. Незарегистрированных отправляем
// на /register.
// ══════════════════════════════════════════════════════════════════════════════

// RegistrationChecker reports whether a user has a stored token.
type RegistrationChecker interface {
	IsRegistered(ctx context.Context, userID account.UserID) (bool, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// PublicCommands don't require a stored token.
	PublicCommands map[string]bool

	// CacheTTL is how long a positive answer is remembered.
	CacheTTL time.Duration
}

// DefaultAuthConfig returns sensible defaults for auth middleware.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		PublicCommands: map[string]bool{
			"start":    true,
			"help":     true,
			"register": true,
		},
		CacheTTL: 5 * time.Minute,
	}
}

// AuthMiddleware guards commands that need a registered user.
type AuthMiddleware struct {
	checker RegistrationChecker
	config  AuthConfig
	now     func() time.Time

	mu    sync.Mutex
	known map[int64]time.Time
}

// NewAuthMiddleware creates a new auth middleware with the given configuration.
func NewAuthMiddleware(checker RegistrationChecker, config AuthConfig) *AuthMiddleware {
	if config.PublicCommands == nil {
		config.PublicCommands = DefaultAuthConfig().PublicCommands
	}
	return &AuthMiddleware{
		checker: checker,
		config:  config,
		now:     time.Now,
		known:   make(map[int64]time.Time),
	}
}

// AuthResult represents the result of an authentication check.
type AuthResult struct {
	// IsRegistered is true when the user has a stored token.
	IsRegistered bool

	// ShouldContinue indicates if request processing should continue.
	ShouldContinue bool
}

// Authenticate checks whether telegramID may run command.
// Tokens are never removed, so only positive answers are cached.
func (m *AuthMiddleware) Authenticate(ctx context.Context, telegramID int64, command string) (AuthResult, error) {
	if m.config.PublicCommands[command] {
		return AuthResult{ShouldContinue: true}, nil
	}

	if m.cached(telegramID) {
		return AuthResult{IsRegistered: true, ShouldContinue: true}, nil
	}

	ok, err := m.checker.IsRegistered(ctx, account.UserIDFromInt(telegramID))
	if err != nil {
		return AuthResult{}, fmt.Errorf("auth: check registration: %w", err)
	}
	if !ok {
		return AuthResult{}, nil
	}

	m.remember(telegramID)
	return AuthResult{IsRegistered: true, ShouldContinue: true}, nil
}

func (m *AuthMiddleware) cached(telegramID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires, ok := m.known[telegramID]
	if !ok {
		return false
	}
	if m.now().After(expires) {
		delete(m.known, telegramID)
		return false
	}
	return true
}

func (m *AuthMiddleware) remember(telegramID int64) {
	if m.config.CacheTTL <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known[telegramID] = m.now().Add(m.config.CacheTTL)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// ContextWithTelegramID adds the Telegram ID to the context.
func ContextWithTelegramID(ctx context.Context, telegramID int64) context.Context {
	return context.WithValue(ctx, TelegramIDContextKey, telegramID)
}

// TelegramIDFromContext retrieves the Telegram ID from context.
// Returns 0 if not found.
func TelegramIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(TelegramIDContextKey).(int64); ok {
		return id
	}
	return 0
}

// ContextWithRequestID adds a request id to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request id from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}
