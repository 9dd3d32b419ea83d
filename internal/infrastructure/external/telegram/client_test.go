package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig("123:secret")
	cfg.BaseURL = srv.URL
	cfg.RetryDelay = time.Millisecond
	cfg.RetryAttempts = 2
	return NewClient(cfg)
}

func TestSendMessage(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:secret/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":9,"chat":{"id":5,"type":"private"}}}`))
	})

	msg, err := c.SendMessage(context.Background(), SendMessageParams{
		ChatID:         5,
		Text:           "<b>hi</b>",
		ParseMode:      "HTML",
		ProtectContent: true,
		ReplyMarkup: &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
			{{Text: "next", CallbackData: "page:s:1"}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), msg.MessageID)

	assert.Equal(t, float64(5), got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, true, got["protect_content"])
	assert.NotNil(t, got["reply_markup"])
}

func TestCallAPI_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot"}}`))
	})

	me, err := c.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bot", me.FirstName)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCallAPI_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot can't initiate conversation with a user"}`))
	})

	_, err := c.SendMessage(context.Background(), SendMessageParams{ChatID: 5, Text: "hi"})
	require.Error(t, err)
	assert.True(t, IsForbidden(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallAPI_ErrorsDoNotLeakToken(t *testing.T) {
	cfg := DefaultClientConfig("123:secret")
	cfg.BaseURL = "http://127.0.0.1:1"
	cfg.RetryAttempts = 0
	c := NewClient(cfg)

	_, err := c.GetMe(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestEditMessageText_NotModifiedIsIgnored(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`))
	})

	_, err := c.EditMessageText(context.Background(), 1, 2, "same", "HTML", nil)
	assert.NoError(t, err)
}

func TestStartPolling_AdvancesOffset(t *testing.T) {
	var (
		mu      sync.Mutex
		offsets []float64
		calls   atomic.Int32
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if off, ok := body["offset"].(float64); ok {
			mu.Lock()
			offsets = append(offsets, off)
			mu.Unlock()
		}
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":10,"message":{"message_id":1,"chat":{"id":1,"type":"private"},"text":"hi"}}]}`))
			return
		}
		cancel()
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	})

	var handled []int64
	err := c.StartPolling(ctx, func(_ context.Context, u *Update) error {
		handled = append(handled, u.UpdateID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, handled)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, offsets)
	assert.Equal(t, float64(11), offsets[0])
}

func TestExtractCommand(t *testing.T) {
	msg := &Message{
		Text:     "/Homework@MoodleBot now",
		Entities: []MessageEntity{{Type: "bot_command", Offset: 0, Length: len("/Homework@MoodleBot")}},
	}
	assert.Equal(t, "homework", ExtractCommand(msg))
	assert.Equal(t, "now", ExtractCommandArgs(msg))

	assert.Empty(t, ExtractCommand(&Message{Text: "hello"}))
	assert.Empty(t, ExtractCommand(nil))
}

func TestExtractCommand_UTF16Offsets(t *testing.T) {
	// Entity lengths are UTF-16 code units; the emoji is two units and four bytes.
	msg := &Message{
		Text:     "/courses😀 données",
		Entities: []MessageEntity{{Type: "bot_command", Offset: 0, Length: 10}},
	}
	assert.Equal(t, "courses😀", ExtractCommand(msg))
	assert.Equal(t, "données", ExtractCommandArgs(msg))

	end, ok := utf16ToByteOffset("a😀b", 3)
	require.True(t, ok)
	assert.Equal(t, 5, end)

	_, ok = utf16ToByteOffset("a😀b", 2)
	assert.False(t, ok, "offset inside a surrogate pair")

	_, ok = utf16ToByteOffset("ab", 5)
	assert.False(t, ok)
}

func TestChatTypes(t *testing.T) {
	assert.True(t, IsPrivateChat(&Message{Chat: &Chat{Type: "private"}}))
	assert.False(t, IsPrivateChat(&Message{Chat: &Chat{Type: "supergroup"}}))
	assert.False(t, IsPrivateChat(&Message{}))
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{Code: 429, Description: "Too Many Requests", RetryAfter: 3}
	assert.True(t, strings.Contains(err.Error(), "429"))
	assert.True(t, isRetryableError(err))
}
