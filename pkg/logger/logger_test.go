package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log, closer := New(Options{Level: slog.LevelDebug, JSON: true, Output: &buf})
	defer closer.Close()

	log.Info("registered",
		slog.String("password", "secret1"),
		slog.String("Token", "tok-123"),
		slog.String("username", "alice"),
		Secret("api_key", "abc"),
	)

	out := buf.String()
	assert.NotContains(t, out, "secret1")
	assert.NotContains(t, out, "tok-123")
	assert.NotContains(t, out, "abc")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, Redacted)
}

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	var console bytes.Buffer

	log, closer := New(Options{Level: slog.LevelInfo, Output: &console, FilePath: path, MaxSizeMB: 1})
	log.Info("hello file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.Contains(t, console.String(), "hello file")
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log, _ := New(Options{Level: slog.LevelWarn, Output: &buf})

	log.Info("quiet")
	log.Warn("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestContext(t *testing.T) {
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithContext(context.Background(), l)

	assert.Same(t, l, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestErr(t *testing.T) {
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.True(t, Err(nil).Equal(slog.Attr{}))
}
