package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/null2264/MoodleBot/internal/domain/account"
	"github.com/null2264/MoodleBot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type memoryStore struct {
	mu     sync.Mutex
	tokens map[account.UserID]string
	putErr error
	getErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tokens: make(map[account.UserID]string)}
}

func (s *memoryStore) Get(_ context.Context, userID account.UserID) (account.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return account.Token{}, false, s.getErr
	}
	v, ok := s.tokens[userID]
	if !ok {
		return account.Token{}, false, nil
	}
	return account.Token{UserID: userID, Value: v}, true, nil
}

func (s *memoryStore) Put(_ context.Context, token account.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	if _, ok := s.tokens[token.UserID]; ok {
		return shared.ErrAlreadyRegistered
	}
	s.tokens[token.UserID] = token.Value
	return nil
}

type fakeMoodle struct {
	mu     sync.Mutex
	calls  int
	logins map[string]string
	token  string
	err    error
}

func (f *fakeMoodle) AcquireToken(_ context.Context, username, password string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	if f.logins[username] != password {
		return "", false, nil
	}
	return f.token, true, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
	failFor map[NoticeKind]error
}

func (n *recordingNotifier) Notify(_ context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failFor[notice.Kind]; err != nil {
		return err
	}
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NoticeKind, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, notice.Kind)
	}
	return out
}

func (n *recordingNotifier) last() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notices[len(n.notices)-1]
}

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualClock fires timers only when the test asks it to.
type manualClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *manualClock) Now() time.Time { return time.Unix(1_700_000_000, 0) }

func (c *manualClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs the n-th armed timer even if it was stopped, as a timer that
// already fired concurrently would.
func (c *manualClock) fire(n int) {
	c.mu.Lock()
	t := c.timers[n]
	c.mu.Unlock()
	t.fn()
}

func (c *manualClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

const (
	aliceID      account.UserID = "1001"
	aliceChat    int64          = 1001
	groupChat    int64          = -500
	aliceMention                = "@alice"
)

type harness struct {
	store    *memoryStore
	moodle   *fakeMoodle
	notifier *recordingNotifier
	clock    *manualClock
	manager  *RegistrationManager
}

func newHarness() *harness {
	h := &harness{
		store:    newMemoryStore(),
		moodle:   &fakeMoodle{logins: map[string]string{"alice": "secret1"}, token: "tok-123"},
		notifier: &recordingNotifier{},
		clock:    &manualClock{},
	}
	h.manager = NewRegistrationManager(h.store, h.moodle, h.notifier, nil, h.clock, DefaultManagerConfig(), nil)
	return h
}

func aliceFromGroup() FlowParams {
	return FlowParams{
		UserID:        aliceID,
		PrivateChatID: aliceChat,
		Origin:        Origin{ChatID: groupChat, Shared: true},
		Mention:       aliceMention,
	}
}

func dm(text string) Message {
	return Message{ChatID: aliceChat, Private: true, From: aliceID, Text: text}
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRegistration_HappyPath(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
	assert.True(t, h.manager.IsActive(aliceID))

	assert.True(t, h.manager.HandleMessage(ctx, dm("alice")))
	assert.True(t, h.manager.HandleMessage(ctx, dm("secret1")))

	assert.False(t, h.manager.IsActive(aliceID))
	assert.Equal(t, "tok-123", h.store.tokens[aliceID])
	assert.Equal(t, []NoticeKind{
		NoticeUsernamePrompt,
		NoticeCheckPrivate,
		NoticePasswordPrompt,
		NoticeSummary,
		NoticeAcknowledged,
	}, h.notifier.kinds())

	summary := h.notifier.notices[3]
	assert.Equal(t, aliceChat, summary.ChatID)
	assert.True(t, summary.Sensitive)
	assert.Equal(t, "alice", summary.Username)
	assert.Equal(t, "secret1", summary.Password)
	assert.Equal(t, "tok-123", summary.Token)

	ack := h.notifier.last()
	assert.Equal(t, groupChat, ack.ChatID)
	assert.Equal(t, aliceMention, ack.Mention)
	assert.False(t, ack.Sensitive)
	assert.Empty(t, ack.Token)
	assert.Empty(t, ack.Password)
}

func TestRegistration_TimeoutLeavesStoreUntouched(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
	require.Equal(t, 1, h.clock.count())

	h.clock.fire(0)

	assert.False(t, h.manager.IsActive(aliceID))
	assert.Empty(t, h.store.tokens)
	assert.Equal(t, 0, h.moodle.calls)

	last := h.notifier.last()
	assert.Equal(t, NoticeTimedOut, last.Kind)
	assert.Equal(t, groupChat, last.ChatID)

	// Late input is no longer consumed.
	assert.False(t, h.manager.HandleMessage(ctx, dm("alice")))

	// The lock is released, so the user can start again.
	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
}

func TestRegistration_TimeoutWhileAwaitingPassword(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
	require.True(t, h.manager.HandleMessage(ctx, dm("alice")))
	require.Equal(t, 2, h.clock.count(), "each prompt arms its own timer")

	h.clock.fire(1)

	assert.Equal(t, NoticeTimedOut, h.notifier.last().Kind)
	assert.Empty(t, h.store.tokens)
	assert.False(t, h.manager.IsActive(aliceID))
}

func TestRegistration_StaleTimerIsIgnored(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
	require.True(t, h.manager.HandleMessage(ctx, dm("alice")))

	// The username prompt timer fires after the username already arrived.
	h.clock.fire(0)

	assert.True(t, h.manager.IsActive(aliceID))
	assert.True(t, h.manager.HandleMessage(ctx, dm("secret1")))
	assert.Equal(t, "tok-123", h.store.tokens[aliceID])
}

func TestRegistration_AlreadyRegisteredSkipsMoodle(t *testing.T) {
	h := newHarness()
	h.store.tokens[aliceID] = "existing"

	require.NoError(t, h.manager.Register(context.Background(), aliceFromGroup()))

	assert.Equal(t, 0, h.moodle.calls)
	assert.Equal(t, []NoticeKind{NoticeAlreadyRegistered}, h.notifier.kinds())
	assert.Equal(t, groupChat, h.notifier.last().ChatID)
	assert.Equal(t, "existing", h.store.tokens[aliceID])
	assert.False(t, h.manager.IsActive(aliceID))
	assert.Equal(t, 0, h.clock.count())
}

func TestRegistration_InvalidLogin(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
	h.manager.HandleMessage(ctx, dm("alice"))
	h.manager.HandleMessage(ctx, dm("wrong"))

	last := h.notifier.last()
	assert.Equal(t, NoticeInvalidLogin, last.Kind)
	assert.Equal(t, aliceChat, last.ChatID)
	assert.Empty(t, h.store.tokens)
	assert.False(t, h.manager.IsActive(aliceID))
}

func TestRegistration_MoodleUnavailable(t *testing.T) {
	h := newHarness()
	h.moodle.err = shared.ErrRemoteUnavailable
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
	h.manager.HandleMessage(ctx, dm("alice"))
	h.manager.HandleMessage(ctx, dm("secret1"))

	assert.Equal(t, NoticeRemoteUnavailable, h.notifier.last().Kind)
	assert.Empty(t, h.store.tokens)
}

func TestRegistration_ConcurrentWinnerKeepsToken(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
	h.manager.HandleMessage(ctx, dm("alice"))

	// Another replica stored a token in the meantime.
	h.store.tokens[aliceID] = "from-elsewhere"
	h.manager.HandleMessage(ctx, dm("secret1"))

	assert.Equal(t, NoticeAlreadyRegistered, h.notifier.last().Kind)
	assert.Equal(t, "from-elsewhere", h.store.tokens[aliceID])
}

func TestRegistration_StorageFailure(t *testing.T) {
	h := newHarness()
	h.store.putErr = errors.New("connection refused")
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
	h.manager.HandleMessage(ctx, dm("alice"))
	h.manager.HandleMessage(ctx, dm("secret1"))

	assert.Equal(t, NoticeInternalError, h.notifier.last().Kind)
	assert.False(t, h.manager.IsActive(aliceID))
}

func TestRegistration_StartStorageError(t *testing.T) {
	h := newHarness()
	h.store.getErr = errors.New("connection refused")

	err := h.manager.Register(context.Background(), aliceFromGroup())
	require.Error(t, err)
	assert.False(t, h.manager.IsActive(aliceID))
	assert.Empty(t, h.notifier.kinds())
}

func TestRegistration_SecondRegisterRefused(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
	err := h.manager.Register(ctx, aliceFromGroup())
	assert.ErrorIs(t, err, shared.ErrRegistrationInProgress)
	assert.Equal(t, 1, h.manager.ActiveCount())
}

func TestRegistration_IgnoresForeignMessages(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))

	// Same user, but in the group chat.
	assert.False(t, h.manager.HandleMessage(ctx, Message{ChatID: groupChat, From: aliceID, Text: "alice"}))
	// Another user in private.
	assert.False(t, h.manager.HandleMessage(ctx, Message{ChatID: 2002, Private: true, From: "2002", Text: "alice"}))

	assert.Equal(t, StateAwaitingUsername, h.manager.flows[aliceID].flow.State())
}

func TestRegistration_PrivateOriginHasNoPublicNotices(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	params := aliceFromGroup()
	params.Origin = Origin{ChatID: aliceChat, Shared: false}

	require.NoError(t, h.manager.Register(ctx, params))
	h.manager.HandleMessage(ctx, dm("alice"))
	h.manager.HandleMessage(ctx, dm("secret1"))

	assert.Equal(t, []NoticeKind{NoticeUsernamePrompt, NoticePasswordPrompt, NoticeSummary}, h.notifier.kinds())
}

func TestRegistration_PrivateChatUnavailable(t *testing.T) {
	h := newHarness()
	h.notifier.failFor = map[NoticeKind]error{NoticeUsernamePrompt: errors.New("Forbidden: bot can't initiate conversation")}

	require.NoError(t, h.manager.Register(context.Background(), aliceFromGroup()))

	assert.Equal(t, []NoticeKind{NoticePrivateUnavailable}, h.notifier.kinds())
	assert.Equal(t, groupChat, h.notifier.last().ChatID)
	assert.False(t, h.manager.IsActive(aliceID))
}

func TestRegistration_Shutdown(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
	h.manager.Shutdown(ctx)

	assert.Equal(t, 0, h.manager.ActiveCount())
	require.NoError(t, h.manager.Register(ctx, aliceFromGroup()))
}

func TestFlow_OnTimeoutNoopWhenTerminal(t *testing.T) {
	store := newMemoryStore()
	store.tokens[aliceID] = "existing"
	notifier := &recordingNotifier{}
	flow := NewFlow(aliceFromGroup(), store, &fakeMoodle{}, notifier, nil)

	require.NoError(t, flow.Start(context.Background()))
	require.Equal(t, StateAlreadyRegistered, flow.State())

	flow.OnTimeout(context.Background())
	assert.Equal(t, StateAlreadyRegistered, flow.State())
	assert.Len(t, notifier.kinds(), 1)
}

func TestFlow_ErrReportsOutcome(t *testing.T) {
	ctx := context.Background()
	newFlow := func() *Flow {
		moodle := &fakeMoodle{logins: map[string]string{"alice": "secret1"}, token: "tok-123"}
		return NewFlow(aliceFromGroup(), newMemoryStore(), moodle, &recordingNotifier{}, nil)
	}

	timedOut := newFlow()
	require.NoError(t, timedOut.Start(ctx))
	assert.NoError(t, timedOut.Err())
	timedOut.OnTimeout(ctx)
	assert.ErrorIs(t, timedOut.Err(), shared.ErrTimedOut)

	rejected := newFlow()
	require.NoError(t, rejected.Start(ctx))
	rejected.OnMessage(ctx, dm("alice"))
	rejected.OnMessage(ctx, dm("wrong"))
	assert.ErrorIs(t, rejected.Err(), shared.ErrAuthFailure)
	assert.ErrorIs(t, rejected.Err(), shared.ErrUnauthorized)

	done := newFlow()
	require.NoError(t, done.Start(ctx))
	done.OnMessage(ctx, dm("alice"))
	done.OnMessage(ctx, dm("secret1"))
	assert.Equal(t, StateDone, done.State())
	assert.NoError(t, done.Err())
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "u")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(ctx, "u")
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))
	unlock2, ok, _ := l.TryLock(ctx, "u")
	assert.True(t, ok)

	// A stale unlock must not release the new holder.
	require.NoError(t, unlock(ctx))
	_, ok, _ = l.TryLock(ctx, "u")
	assert.False(t, ok)
	require.NoError(t, unlock2(ctx))
}

func TestState(t *testing.T) {
	assert.True(t, StateAwaitingUsername.IsAwaiting())
	assert.True(t, StateAwaitingPassword.IsAwaiting())
	assert.False(t, StateExchanging.IsAwaiting())
	for _, s := range []State{StateDone, StateTimedOut, StateAlreadyRegistered, StateFailed} {
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, StateIdle.IsTerminal())
}
