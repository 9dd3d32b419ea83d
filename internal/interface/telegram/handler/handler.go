// Package handler contains Telegram command handlers.
package handler

import (
	"context"

	"github.com/null2264/MoodleBot/internal/application/query"
	"github.com/null2264/MoodleBot/internal/application/saga"
	"github.com/null2264/MoodleBot/internal/domain/account"
	"github.com/null2264/MoodleBot/internal/domain/coursework"
	"github.com/null2264/MoodleBot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// Обработчики зависят от узких интерфейсов, а не от конкретных сервисов.
// ══════════════════════════════════════════════════════════════════════════════

// CourseworkQuerier reads a registered user's Moodle data.
type CourseworkQuerier interface {
	GetHomework(ctx context.Context, userID account.UserID) ([]coursework.Event, error)
	GetCourses(ctx context.Context, userID account.UserID) ([]coursework.Course, error)
	GetMoodleUserID(ctx context.Context, userID account.UserID) (query.UserIDResult, error)
}

// RegistrationStarter starts a registration conversation.
type RegistrationStarter interface {
	Register(ctx context.Context, params saga.FlowParams) error
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE
// ══════════════════════════════════════════════════════════════════════════════

// CommandRequest contains the parsed command data.
type CommandRequest struct {
	// TelegramID is the user's Telegram ID.
	TelegramID int64

	// FirstName is used for mentions.
	FirstName string

	// ChatID is the chat ID for sending responses.
	ChatID int64

	// MessageID is the message that carried the command.
	MessageID int64

	// Private is true when the command came from a private chat.
	Private bool

	// Args is the text after the command.
	Args string
}

// UserID returns the account key of the requesting user.
func (r CommandRequest) UserID() account.UserID {
	return account.UserIDFromInt(r.TelegramID)
}

// Mention returns an HTML mention of the requesting user.
func (r CommandRequest) Mention() string {
	return presenter.Mention(r.TelegramID, r.FirstName)
}

// Response contains the response to send back. A nil *Response means the
// handler already replied or has nothing to say.
type Response struct {
	// Text is the message text (HTML formatted).
	Text string

	// Keyboard is the inline keyboard to attach.
	Keyboard *presenter.InlineKeyboard

	// ParseMode is the parse mode (HTML).
	ParseMode string
}

func htmlResponse(text string, kb *presenter.InlineKeyboard) *Response {
	return &Response{Text: text, Keyboard: kb, ParseMode: presenter.ParseModeHTML}
}
