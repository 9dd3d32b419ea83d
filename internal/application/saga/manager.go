package saga

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/null2264/MoodleBot/internal/domain/account"
	"github.com/null2264/MoodleBot/internal/domain/shared"
	"github.com/null2264/MoodleBot/internal/infrastructure/metrics"
	"github.com/null2264/MoodleBot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION MANAGER
// Реестр активных диалогов: один сценарий на пользователя, таймер на
// каждый запрос, блокировка на всё время жизни сценария.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultPromptTimeout - время ожидания ответа на каждый запрос.
const DefaultPromptTimeout = 60 * time.Second

// Locker выдаёт блокировку на пользователя. unlock можно вызывать повторно.
type Locker interface {
	TryLock(ctx context.Context, userID string) (unlock func(context.Context) error, acquired bool, err error)
}

// MemoryLocker - Locker в пределах одного процесса.
type MemoryLocker struct {
	mu     sync.Mutex
	held   map[string]uint64
	nextID uint64
}

// NewMemoryLocker создаёт MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]uint64)}
}

// TryLock implements Locker.
func (l *MemoryLocker) TryLock(_ context.Context, userID string) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[userID]; busy {
		return nil, false, nil
	}
	l.nextID++
	owner := l.nextID
	l.held[userID] = owner

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[userID] == owner {
			delete(l.held, userID)
		}
		return nil
	}, true, nil
}

// ManagerConfig - настройки менеджера регистрации.
type ManagerConfig struct {
	PromptTimeout time.Duration
	// NotifyTimeout ограничивает отправку уведомления о тайм-ауте,
	// которая идёт вне контекста входящего апдейта.
	NotifyTimeout time.Duration
}

// DefaultManagerConfig возвращает настройки по умолчанию.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PromptTimeout: DefaultPromptTimeout,
		NotifyTimeout: 10 * time.Second,
	}
}

type activeFlow struct {
	flow   *Flow
	timer  Timer
	armed  int
	unlock func(context.Context) error
}

// RegistrationManager маршрутизирует личные сообщения в активные сценарии.
type RegistrationManager struct {
	store    account.TokenStore
	moodle   TokenAcquirer
	notifier Notifier
	locker   Locker
	clock    Clock
	config   ManagerConfig
	logger   *slog.Logger

	mu    sync.Mutex
	flows map[account.UserID]*activeFlow
}

// NewRegistrationManager создаёт менеджер. nil locker и clock заменяются
// на MemoryLocker и системные часы.
func NewRegistrationManager(
	store account.TokenStore,
	moodle TokenAcquirer,
	notifier Notifier,
	locker Locker,
	clock Clock,
	config ManagerConfig,
	log *slog.Logger,
) *RegistrationManager {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if clock == nil {
		clock = RealClock()
	}
	if config.PromptTimeout <= 0 {
		config.PromptTimeout = DefaultPromptTimeout
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &RegistrationManager{
		store:    store,
		moodle:   moodle,
		notifier: notifier,
		locker:   locker,
		clock:    clock,
		config:   config,
		logger:   log,
		flows:    make(map[account.UserID]*activeFlow),
	}
}

// Register запускает сценарий регистрации.
// Возвращает shared.ErrRegistrationInProgress, если у пользователя уже идёт регистрация.
func (m *RegistrationManager) Register(ctx context.Context, params FlowParams) error {
	if !params.UserID.IsValid() {
		return shared.NewDomainError("account", "Register", shared.ErrInvalidInput, "user id is required")
	}

	unlock, acquired, err := m.locker.TryLock(ctx, params.UserID.String())
	if err != nil {
		return shared.WrapError("account", "Register", shared.ErrServiceUnavailable, "failed to acquire registration lock", err)
	}
	if !acquired {
		return shared.ErrRegistrationInProgress
	}

	entry := &activeFlow{
		flow:   NewFlow(params, m.store, m.moodle, m.notifier, m.logger),
		unlock: unlock,
	}

	m.mu.Lock()
	m.flows[params.UserID] = entry
	m.mu.Unlock()
	metrics.RegistrationsActive.Inc()

	err = entry.flow.Start(ctx)
	m.afterStep(ctx, params.UserID, entry)
	return err
}

// HandleMessage передаёт сообщение активному сценарию отправителя.
// Возвращает true, если сообщение поглощено сценарием.
func (m *RegistrationManager) HandleMessage(ctx context.Context, msg Message) bool {
	if !msg.Private {
		return false
	}

	m.mu.Lock()
	entry, ok := m.flows[msg.From]
	m.mu.Unlock()
	if !ok {
		return false
	}

	accepted := entry.flow.OnMessage(ctx, msg)
	m.afterStep(ctx, msg.From, entry)
	return accepted
}

// IsActive сообщает, идёт ли у пользователя регистрация.
func (m *RegistrationManager) IsActive(userID account.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flows[userID]
	return ok
}

// ActiveCount возвращает число активных сценариев.
func (m *RegistrationManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flows)
}

// Shutdown прерывает все сценарии и снимает блокировки.
func (m *RegistrationManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	flows := m.flows
	m.flows = make(map[account.UserID]*activeFlow)
	m.mu.Unlock()

	for _, entry := range flows {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.flow.cancel()
		m.release(ctx, entry)
	}
}

// afterStep перезапускает таймер после нового запроса и убирает
// завершённые сценарии.
func (m *RegistrationManager) afterStep(ctx context.Context, userID account.UserID, entry *activeFlow) {
	state := entry.flow.State()

	m.mu.Lock()
	if m.flows[userID] != entry {
		// Уже завершён другим путём (таймер или Shutdown).
		m.mu.Unlock()
		return
	}

	if state.IsTerminal() {
		delete(m.flows, userID)
		if entry.timer != nil {
			entry.timer.Stop()
		}
		m.mu.Unlock()

		m.release(ctx, entry)
		metrics.RegistrationsTotal.WithLabelValues(string(state)).Inc()
		m.logger.Debug("registration finished",
			slog.String("state", string(state)),
			logger.FlowID(entry.flow.ID()),
			logger.Err(entry.flow.Err()),
		)
		return
	}

	prompt := entry.flow.Prompt()
	if state.IsAwaiting() && prompt != entry.armed {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.armed = prompt
		entry.timer = m.clock.AfterFunc(m.config.PromptTimeout, func() {
			m.onTimer(userID, entry, prompt)
		})
	}
	m.mu.Unlock()
}

func (m *RegistrationManager) onTimer(userID account.UserID, entry *activeFlow, prompt int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.NotifyTimeout)
	defer cancel()

	entry.flow.expire(ctx, prompt)
	m.afterStep(ctx, userID, entry)
}

func (m *RegistrationManager) release(ctx context.Context, entry *activeFlow) {
	metrics.RegistrationsActive.Dec()
	if err := entry.unlock(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("failed to release registration lock",
			logger.FlowID(entry.flow.ID()),
			logger.Err(err),
		)
	}
}
