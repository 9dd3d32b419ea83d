// Package middleware contains Telegram bot middlewares for request processing.
package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/null2264/MoodleBot/internal/infrastructure/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER MIDDLEWARE
// Ограничивает частоту команд от одного пользователя. Каждая команда
// бота превращается в запросы к Moodle, поэтому лимит защищает и сайт.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests per user per minute.
	RequestsPerMinute int

	// BurstSize is the maximum burst size.
	BurstSize int

	// CleanupInterval is how often idle users are forgotten.
	CleanupInterval time.Duration

	// IdleTTL is how long a user must be quiet before being forgotten.
	IdleTTL time.Duration

	// BanDuration is how long to mute users who keep hitting the limit.
	BanDuration time.Duration

	// BanThreshold is the number of violations within BanDuration before a mute.
	BanThreshold int

	// WhitelistedUsers are exempt from rate limiting.
	WhitelistedUsers map[int64]bool
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
		IdleTTL:           10 * time.Minute,
		BanDuration:       10 * time.Minute,
		BanThreshold:      5,
		WhitelistedUsers:  make(map[int64]bool),
	}
}

// RateLimiter implements per-user rate limiting on top of token buckets.
type RateLimiter struct {
	config RateLimitConfig
	now    func() time.Time

	mu    sync.Mutex
	users map[int64]*userLimit

	stopOnce sync.Once
	stop     chan struct{}
}

type userLimit struct {
	limiter      *rate.Limiter
	lastSeen     time.Time
	violations   int
	lastViolated time.Time
	bannedUntil  time.Time
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// RetryAfter is how long the user should wait before retrying.
	RetryAfter time.Duration

	// IsBanned indicates if the user is temporarily muted.
	IsBanned bool

	// ShouldNotify is true for the first rejection of a burst, so the bot
	// answers once instead of on every extra message.
	ShouldNotify bool
}

// NewRateLimiter creates a new rate limiter and starts its cleanup loop.
// Call Stop to end the loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultRateLimitConfig().RequestsPerMinute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	if config.WhitelistedUsers == nil {
		config.WhitelistedUsers = make(map[int64]bool)
	}

	rl := &RateLimiter{
		config: config,
		now:    time.Now,
		users:  make(map[int64]*userLimit),
		stop:   make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}

	return rl
}

// Check reports whether a request from telegramID may proceed.
func (rl *RateLimiter) Check(_ context.Context, telegramID int64) RateLimitResult {
	if rl.config.WhitelistedUsers[telegramID] {
		return RateLimitResult{Allowed: true}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.userLocked(telegramID, now)
	u.lastSeen = now

	if now.Before(u.bannedUntil) {
		metrics.BotRateLimited.Inc()
		return RateLimitResult{RetryAfter: u.bannedUntil.Sub(now), IsBanned: true}
	}

	r := u.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay == 0 {
		return RateLimitResult{Allowed: true}
	}
	// Rejected requests must not eat future tokens.
	r.CancelAt(now)

	if now.Sub(u.lastViolated) > rl.config.BanDuration {
		u.violations = 0
	}
	u.violations++
	u.lastViolated = now
	notify := u.violations == 1

	if rl.config.BanThreshold > 0 && u.violations >= rl.config.BanThreshold {
		u.bannedUntil = now.Add(rl.config.BanDuration)
		delay = rl.config.BanDuration
	}

	metrics.BotRateLimited.Inc()
	return RateLimitResult{RetryAfter: delay, ShouldNotify: notify}
}

func (rl *RateLimiter) userLocked(telegramID int64, now time.Time) *userLimit {
	u, ok := rl.users[telegramID]
	if !ok {
		perSecond := rate.Limit(float64(rl.config.RequestsPerMinute) / 60.0)
		u = &userLimit{limiter: rate.NewLimiter(perSecond, rl.config.BurstSize), lastSeen: now}
		rl.users[telegramID] = u
	}
	return u
}

// Tracked returns the number of users with limiter state.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.users)
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup removes users that are idle and not muted.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, u := range rl.users {
		if now.Sub(u.lastSeen) > rl.config.IdleTTL && now.After(u.bannedUntil) {
			delete(rl.users, id)
		}
	}
}
