package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/null2264/MoodleBot/internal/infrastructure/external/telegram"
	"github.com/null2264/MoodleBot/internal/interface/http/handlers"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	updates []*telegram.Update
	err     error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, u *telegram.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return f.err
}

type pingFunc func(ctx context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

func newTestServer(t *testing.T, deps Dependencies, mutate func(*Config)) http.Handler {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewServer(cfg, deps).Handler()
}

func do(h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, Dependencies{}, nil)

	rec := do(h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", handlers.NewPingCheck(pingFunc(func(context.Context) error { return nil })))
	checker.AddCheck("redis", handlers.NewPingCheck(pingFunc(func(context.Context) error { return errors.New("connection refused") })))

	h := newTestServer(t, Dependencies{HealthChecker: checker}, nil)
	rec := do(h, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Data handlers.HealthStatus `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Data.Healthy)
	assert.True(t, resp.Data.Checks["postgres"].Healthy)
	assert.Equal(t, "failed checks: redis", resp.Data.Message)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, Dependencies{}, nil)
	rec := do(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStats(t *testing.T) {
	h := newTestServer(t, Dependencies{}, nil)
	assert.Equal(t, http.StatusNotImplemented, do(h, http.MethodGet, "/stats", "", nil).Code)

	h = newTestServer(t, Dependencies{Stats: func() map[string]any { return map[string]any{"running": true} }}, nil)
	rec := do(h, http.MethodGet, "/stats", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":true`)
}

func TestWebhook(t *testing.T) {
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	dispatcher := &fakeDispatcher{}
	hook := handlers.NewTelegramWebhook(dispatcher, "s3cret", log)
	h := newTestServer(t, Dependencies{Webhook: hook, Logger: log}, nil)

	update := `{"update_id":10,"message":{"message_id":1,"from":{"id":42,"first_name":"A"},"chat":{"id":42,"type":"private"},"text":"hunter2"}}`

	rec := do(h, http.MethodPost, "/webhook/telegram", update, http.Header{handlers.SecretTokenHeader: {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, dispatcher.updates)

	rec = do(h, http.MethodPost, "/webhook/telegram", "{not json", http.Header{handlers.SecretTokenHeader: {"s3cret"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/webhook/telegram", update, http.Header{handlers.SecretTokenHeader: {"s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, dispatcher.updates, 1)
	assert.Equal(t, int64(10), dispatcher.updates[0].UpdateID)
	assert.Equal(t, "hunter2", dispatcher.updates[0].Message.Text)

	dispatcher.err = errors.New("queue closed")
	rec = do(h, http.MethodPost, "/webhook/telegram", update, http.Header{handlers.SecretTokenHeader: {"s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, logs.String(), "hunter2")
	assert.NotContains(t, logs.String(), "s3cret")
}

func TestWebhook_NotMountedInPollingMode(t *testing.T) {
	h := newTestServer(t, Dependencies{}, nil)
	rec := do(h, http.MethodPost, "/webhook/telegram", "{}", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, Dependencies{}, func(c *Config) { c.RateLimitPerMinute = 2 })

	header := http.Header{"X-Forwarded-For": {"203.0.113.7"}}
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "", header).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "", header).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/healthz", "", header).Code)

	other := http.Header{"X-Forwarded-For": {"203.0.113.8"}}
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "", other).Code)
}

func TestRecovery(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	s.router.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := do(s.Handler(), http.MethodGet, "/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
