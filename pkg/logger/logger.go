// Package logger builds the bot's structured slog logger.
// It writes to stdout and, when a file path is configured, to a size-rotated
// log file. Attributes whose keys look like secrets are always redacted.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Redacted is the value written in place of secrets.
const Redacted = "[REDACTED]"

// sensitiveKeys are attribute keys that never reach the log output.
var sensitiveKeys = map[string]struct{}{
	"password":  {},
	"token":     {},
	"wstoken":   {},
	"bot_token": {},
	"secret":    {},
}

// Options configures the logger.
type Options struct {
	// Level is the minimum enabled level.
	Level slog.Level

	// JSON selects the JSON handler; text otherwise.
	JSON bool

	// Output is the console writer. Default: os.Stdout.
	Output io.Writer

	// FilePath enables a rotated log file when not empty.
	FilePath string

	// MaxSizeMB is the size in megabytes before the file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// MaxAgeDays is the number of days rotated files are kept.
	MaxAgeDays int

	// Compress gzips rotated files.
	Compress bool
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Level:      slog.LevelInfo,
		Output:     os.Stdout,
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// New creates a logger and returns a closer for the log file (a no-op
// closer when no file is configured).
func New(opts Options) (*slog.Logger, io.Closer) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var closer io.Closer = nopCloser{}
	if opts.FilePath != "" {
		file := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		out = io.MultiWriter(out, file)
		closer = file
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: redactSensitive,
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(handler), closer
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactSensitive(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Bot-related logging helpers.
func Component(name string) slog.Attr   { return slog.String("component", name) }
func Operation(name string) slog.Attr   { return slog.String("operation", name) }
func TelegramID(id int64) slog.Attr     { return slog.Int64("telegram_id", id) }
func UserID(id string) slog.Attr        { return slog.String("user_id", id) }
func FlowID(id string) slog.Attr        { return slog.String("flow_id", id) }
func WSFunction(name string) slog.Attr  { return slog.String("wsfunction", name) }
func Latency(d time.Duration) slog.Attr { return slog.Duration("latency", d) }

// Secret logs that a value was present without logging the value itself.
func Secret(key string, _ string) slog.Attr {
	return slog.String(key, Redacted)
}

// Err returns an error attribute; nil errors produce an empty attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
