package middleware

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/null2264/MoodleBot/internal/infrastructure/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS MIDDLEWARE
// Считает команды и их длительность. Счётчики Prometheus отдаются на
// /metrics, краткая сводка в памяти доступна через Snapshot.
// ══════════════════════════════════════════════════════════════════════════════

// Command outcome labels.
const (
	StatusOK            = "ok"
	StatusError         = "error"
	StatusNotRegistered = "not_registered"
	StatusBusy          = "busy"
	StatusUnavailable   = "unavailable"
	StatusRejected      = "rejected"
	StatusNotFound      = "not_found"
	StatusRateLimited   = "rate_limited"
	StatusPanic         = "panic"
)

// MetricsConfig holds configuration for the metrics middleware.
type MetricsConfig struct {
	// SlowRequestThreshold is the duration above which OnSlowRequest fires.
	SlowRequestThreshold time.Duration

	// OnSlowRequest is called for requests slower than the threshold.
	OnSlowRequest func(command string, duration time.Duration, telegramID int64)
}

// DefaultMetricsConfig returns sensible defaults for metrics middleware.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SlowRequestThreshold: 5 * time.Second,
	}
}

// MetricsMiddleware records per-command metrics.
type MetricsMiddleware struct {
	config MetricsConfig

	totalRequests  atomic.Int64
	totalErrors    atomic.Int64
	activeRequests atomic.Int64

	mu       sync.Mutex
	commands map[string]*commandStats
}

type commandStats struct {
	total    int64
	errors   int64
	duration time.Duration
	max      time.Duration
	last     time.Time
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(config MetricsConfig) *MetricsMiddleware {
	return &MetricsMiddleware{
		config:   config,
		commands: make(map[string]*commandStats),
	}
}

// RequestContext tracks one command invocation.
type RequestContext struct {
	Command    string
	TelegramID int64
	StartTime  time.Time

	middleware *MetricsMiddleware
	once       sync.Once
}

// Start begins tracking a new request.
func (m *MetricsMiddleware) Start(command string, telegramID int64) *RequestContext {
	m.totalRequests.Add(1)
	m.activeRequests.Add(1)

	return &RequestContext{
		Command:    command,
		TelegramID: telegramID,
		StartTime:  time.Now(),
		middleware: m,
	}
}

// End completes tracking with the given outcome label. Only the first call counts.
func (rc *RequestContext) End(status string) {
	rc.once.Do(func() {
		rc.middleware.record(rc, status, time.Since(rc.StartTime))
	})
}

func (m *MetricsMiddleware) record(rc *RequestContext, status string, duration time.Duration) {
	m.activeRequests.Add(-1)

	failed := status == StatusError || status == StatusUnavailable || status == StatusPanic
	if failed {
		m.totalErrors.Add(1)
	}

	metrics.BotCommandsTotal.WithLabelValues(rc.Command, status).Inc()
	metrics.BotCommandDurationSeconds.WithLabelValues(rc.Command).Observe(duration.Seconds())

	m.mu.Lock()
	stats, ok := m.commands[rc.Command]
	if !ok {
		stats = &commandStats{}
		m.commands[rc.Command] = stats
	}
	stats.total++
	if failed {
		stats.errors++
	}
	stats.duration += duration
	stats.max = max(stats.max, duration)
	stats.last = time.Now()
	m.mu.Unlock()

	if m.config.OnSlowRequest != nil && m.config.SlowRequestThreshold > 0 && duration > m.config.SlowRequestThreshold {
		m.config.OnSlowRequest(rc.Command, duration, rc.TelegramID)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// MetricsSnapshot is a point-in-time view of collected metrics.
type MetricsSnapshot struct {
	Timestamp      time.Time
	TotalRequests  int64
	TotalErrors    int64
	ActiveRequests int64
	ErrorRate      float64
	Commands       map[string]CommandSnapshot
}

// CommandSnapshot holds metrics for a single command.
type CommandSnapshot struct {
	TotalCount  int64
	ErrorCount  int64
	AvgDuration time.Duration
	MaxDuration time.Duration
	LastInvoked time.Time
}

// Snapshot returns the current metrics.
func (m *MetricsMiddleware) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Timestamp:      time.Now(),
		TotalRequests:  m.totalRequests.Load(),
		TotalErrors:    m.totalErrors.Load(),
		ActiveRequests: m.activeRequests.Load(),
		Commands:       make(map[string]CommandSnapshot),
	}
	if snap.TotalRequests > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalRequests)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, s := range m.commands {
		cs := CommandSnapshot{
			TotalCount:  s.total,
			ErrorCount:  s.errors,
			MaxDuration: s.max,
			LastInvoked: s.last,
		}
		if s.total > 0 {
			cs.AvgDuration = s.duration / time.Duration(s.total)
		}
		snap.Commands[name] = cs
	}
	return snap
}
