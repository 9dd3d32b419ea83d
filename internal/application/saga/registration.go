// Package saga содержит многошаговые бизнес-процессы бота.
// Сейчас это единственный процесс: регистрация токена Moodle через
// приватный диалог с пользователем.
package saga

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/null2264/MoodleBot/internal/domain/account"
	"github.com/null2264/MoodleBot/internal/domain/shared"
	"github.com/null2264/MoodleBot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION FLOW
// Сценарий: проверка токена → запрос логина в ЛС → запрос пароля в ЛС →
//
//	обмен на токен в Moodle → сохранение → подтверждение
//
// ══════════════════════════════════════════════════════════════════════════════

// State - состояние сценария регистрации.
type State string

const (
	StateIdle              State = "idle"
	StateAwaitingUsername  State = "awaiting_username"
	StateAwaitingPassword  State = "awaiting_password"
	StateExchanging        State = "exchanging"
	StateDone              State = "done"
	StateTimedOut          State = "timed_out"
	StateAlreadyRegistered State = "already_registered"
	StateFailed            State = "failed"
)

// IsAwaiting возвращает true, если сценарий ждёт ввода пользователя.
func (s State) IsAwaiting() bool {
	return s == StateAwaitingUsername || s == StateAwaitingPassword
}

// IsTerminal возвращает true для конечных состояний.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateTimedOut, StateAlreadyRegistered, StateFailed:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// TokenAcquirer обменивает логин и пароль на токен веб-сервиса.
// ok == false означает неверные учётные данные.
type TokenAcquirer interface {
	AcquireToken(ctx context.Context, username, password string) (token string, ok bool, err error)
}

// NoticeKind - тип уведомления, которое сценарий отправляет пользователю.
type NoticeKind int

const (
	// NoticeAlreadyRegistered - у пользователя уже есть токен (в исходный чат).
	NoticeAlreadyRegistered NoticeKind = iota + 1
	// NoticeCheckPrivate - "проверьте личные сообщения" (в общий чат).
	NoticeCheckPrivate
	// NoticePrivateUnavailable - бот не может написать пользователю в ЛС.
	NoticePrivateUnavailable
	// NoticeUsernamePrompt - запрос логина (в ЛС).
	NoticeUsernamePrompt
	// NoticePasswordPrompt - запрос пароля (в ЛС).
	NoticePasswordPrompt
	// NoticeTimedOut - истекло время ожидания (в исходный чат).
	NoticeTimedOut
	// NoticeInvalidLogin - Moodle отклонил логин (в ЛС).
	NoticeInvalidLogin
	// NoticeRemoteUnavailable - Moodle недоступен (в ЛС).
	NoticeRemoteUnavailable
	// NoticeInternalError - непредвиденная ошибка, например БД недоступна (в ЛС).
	NoticeInternalError
	// NoticeSummary - итог регистрации с логином, паролем и токеном (только в ЛС).
	NoticeSummary
	// NoticeAcknowledged - публичное подтверждение без секретов (в общий чат).
	NoticeAcknowledged
)

// Notice - уведомление для одного чата.
// Username, Password и Token заполняются только для NoticeSummary,
// и только этот вид помечен как Sensitive.
type Notice struct {
	Kind    NoticeKind
	ChatID  int64
	Mention string

	Username  string
	Password  string
	Token     string
	Sensitive bool
}

// Notifier доставляет уведомления в чат-платформу.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// Origin - чат, в котором была вызвана команда /register.
type Origin struct {
	ChatID int64
	Shared bool
}

// Message - входящее сообщение, которое может продолжить сценарий.
type Message struct {
	ChatID  int64
	Private bool
	From    account.UserID
	Text    string
}

// FlowParams описывает, для кого и откуда запущена регистрация.
type FlowParams struct {
	UserID        account.UserID
	PrivateChatID int64
	Origin        Origin
	Mention       string
}

// ══════════════════════════════════════════════════════════════════════════════
// FLOW IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// Flow - один сценарий регистрации одного пользователя.
// Методы безопасны для конкурентного вызова: таймер и входящие сообщения
// сериализуются через mu.
type Flow struct {
	mu sync.Mutex

	id     string
	params FlowParams
	state  State
	creds  account.Credentials
	prompt int
	err    error

	store    account.TokenStore
	moodle   TokenAcquirer
	notifier Notifier
	logger   *slog.Logger
}

// NewFlow создаёт сценарий в состоянии Idle.
func NewFlow(params FlowParams, store account.TokenStore, moodle TokenAcquirer, notifier Notifier, log *slog.Logger) *Flow {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &Flow{
		id:       id,
		params:   params,
		state:    StateIdle,
		store:    store,
		moodle:   moodle,
		notifier: notifier,
		logger: log.With(
			logger.Component("registration"),
			logger.FlowID(id),
			logger.UserID(params.UserID.String()),
		),
	}
}

// ID возвращает идентификатор сценария для корреляции логов.
func (f *Flow) ID() string { return f.id }

// State возвращает текущее состояние.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err возвращает причину неуспешного завершения: shared.ErrTimedOut,
// shared.ErrAuthFailure, shared.ErrAlreadyRegistered или ошибку Moodle/хранилища.
// Для незавершённого или успешного сценария - nil.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Prompt возвращает номер последнего отправленного запроса.
// Менеджер перезапускает таймер, когда номер меняется.
func (f *Flow) Prompt() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompt
}

// Start запускает сценарий. Если токен уже есть, Moodle не вызывается.
// Ошибка возвращается только для сбоев хранилища, сценарий при этом Failed.
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateIdle {
		return shared.NewDomainError("account", "Register", shared.ErrInvalidState, "flow already started")
	}

	_, found, err := f.store.Get(ctx, f.params.UserID)
	if err != nil {
		f.state = StateFailed
		f.err = err
		return err
	}
	if found {
		f.state = StateAlreadyRegistered
		f.err = shared.ErrAlreadyRegistered
		f.notify(ctx, Notice{Kind: NoticeAlreadyRegistered, ChatID: f.params.Origin.ChatID})
		return nil
	}

	if err := f.sendPrompt(ctx, NoticeUsernamePrompt); err != nil {
		f.state = StateFailed
		f.err = err
		f.notify(ctx, Notice{Kind: NoticePrivateUnavailable, ChatID: f.params.Origin.ChatID, Mention: f.params.Mention})
		f.logger.Info("registration aborted, private chat unavailable", logger.Err(err))
		return nil
	}

	if f.params.Origin.Shared {
		f.notify(ctx, Notice{Kind: NoticeCheckPrivate, ChatID: f.params.Origin.ChatID})
	}

	f.state = StateAwaitingUsername
	f.logger.Info("registration started")
	return nil
}

// OnMessage обрабатывает сообщение. Принимаются только личные сообщения
// владельца сценария в состояниях ожидания; для остальных возвращается false.
func (f *Flow) OnMessage(ctx context.Context, msg Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !msg.Private || msg.From != f.params.UserID || !f.state.IsAwaiting() {
		return false
	}

	switch f.state {
	case StateAwaitingUsername:
		f.creds.Username = msg.Text
		if err := f.sendPrompt(ctx, NoticePasswordPrompt); err != nil {
			f.fail(ctx, NoticeInternalError, err)
			return true
		}
		f.state = StateAwaitingPassword

	case StateAwaitingPassword:
		f.creds.Password = msg.Text
		f.state = StateExchanging
		f.exchange(ctx)
	}

	return true
}

// OnTimeout отменяет сценарий, если он ждёт ввода. В остальных состояниях ничего не делает.
func (f *Flow) OnTimeout(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeoutLocked(ctx)
}

// expire срабатывает по таймеру конкретного запроса. Если за это время
// был отправлен следующий запрос, таймер устарел.
func (f *Flow) expire(ctx context.Context, prompt int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prompt != f.prompt {
		return
	}
	f.timeoutLocked(ctx)
}

func (f *Flow) timeoutLocked(ctx context.Context) {
	if !f.state.IsAwaiting() {
		return
	}
	f.creds.Clear()
	f.state = StateTimedOut
	f.err = shared.ErrTimedOut
	f.notify(ctx, Notice{Kind: NoticeTimedOut, ChatID: f.params.Origin.ChatID})
	f.logger.Info("registration timed out")
}

// cancel прерывает сценарий без уведомления, например при остановке бота.
func (f *Flow) cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.IsTerminal() {
		return
	}
	f.creds.Clear()
	f.state = StateFailed
	f.err = context.Canceled
}

func (f *Flow) exchange(ctx context.Context) {
	token, ok, err := f.moodle.AcquireToken(ctx, f.creds.Username, f.creds.Password)
	if err != nil {
		f.fail(ctx, NoticeRemoteUnavailable, err)
		return
	}
	if !ok {
		f.creds.Clear()
		f.state = StateFailed
		f.err = shared.ErrAuthFailure
		f.notify(ctx, Notice{Kind: NoticeInvalidLogin, ChatID: f.params.PrivateChatID})
		f.logger.Info("registration rejected by Moodle")
		return
	}

	err = f.store.Put(ctx, account.Token{UserID: f.params.UserID, Value: token})
	if errors.Is(err, shared.ErrAlreadyRegistered) {
		f.creds.Clear()
		f.state = StateAlreadyRegistered
		f.err = shared.ErrAlreadyRegistered
		f.notify(ctx, Notice{Kind: NoticeAlreadyRegistered, ChatID: f.params.PrivateChatID})
		f.logger.Info("registration lost race with a concurrent registration")
		return
	}
	if err != nil {
		f.fail(ctx, NoticeInternalError, err)
		return
	}

	f.notify(ctx, Notice{
		Kind:      NoticeSummary,
		ChatID:    f.params.PrivateChatID,
		Username:  f.creds.Username,
		Password:  f.creds.Password,
		Token:     token,
		Sensitive: true,
	})
	f.creds.Clear()

	if f.params.Origin.Shared {
		f.notify(ctx, Notice{Kind: NoticeAcknowledged, ChatID: f.params.Origin.ChatID, Mention: f.params.Mention})
	}

	f.state = StateDone
	f.logger.Info("registration completed")
}

func (f *Flow) fail(ctx context.Context, kind NoticeKind, err error) {
	f.creds.Clear()
	f.state = StateFailed
	f.err = err
	f.notify(ctx, Notice{Kind: kind, ChatID: f.params.PrivateChatID})
	f.logger.Warn("registration failed", logger.Err(err))
}

func (f *Flow) sendPrompt(ctx context.Context, kind NoticeKind) error {
	if err := f.notifier.Notify(ctx, Notice{Kind: kind, ChatID: f.params.PrivateChatID}); err != nil {
		return err
	}
	f.prompt++
	return nil
}

// notify отправляет уведомление; ошибка доставки только логируется.
func (f *Flow) notify(ctx context.Context, n Notice) {
	if err := f.notifier.Notify(ctx, n); err != nil {
		f.logger.Warn("failed to deliver registration notice", slog.Int("kind", int(n.Kind)), logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TIME
// ══════════════════════════════════════════════════════════════════════════════

// Timer - остановимый таймер.
type Timer interface {
	Stop() bool
}

// Clock позволяет подменять время в тестах.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock возвращает системные часы.
func RealClock() Clock { return realClock{} }
