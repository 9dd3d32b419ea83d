package handler

import (
	"context"
	"errors"

	"github.com/null2264/MoodleBot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAGE CALLBACK HANDLER
// Кнопки навигации постраничного просмотра: page:<session>:<index> и
// page:<session>:close. Листать может только тот, кто вызвал команду.
// ══════════════════════════════════════════════════════════════════════════════

// CallbackRequest contains the parsed callback query data.
type CallbackRequest struct {
	// TelegramID is the user who pressed the button.
	TelegramID int64

	// FirstName is used for mentions.
	FirstName string

	// Private is true when the keyboard is in a private chat.
	Private bool

	// ChatID is the chat with the keyboard message.
	ChatID int64

	// MessageID is the message with the keyboard.
	MessageID int64

	// Data is the callback data string.
	Data string
}

// CallbackResponse describes how to answer a callback query.
type CallbackResponse struct {
	// Answer is shown as a toast (or an alert when ShowAlert is set).
	Answer    string
	ShowAlert bool

	// Edit replaces the message text and keyboard.
	Edit *Response

	// RemoveKeyboard strips the keyboard and keeps the text.
	RemoveKeyboard bool
}

// PageHandler handles page navigation callbacks.
type PageHandler struct {
	pages     *presenter.PageStore
	keyboards *presenter.KeyboardBuilder
}

// NewPageHandler creates a new PageHandler.
func NewPageHandler(pages *presenter.PageStore, keyboards *presenter.KeyboardBuilder) *PageHandler {
	return &PageHandler{pages: pages, keyboards: keyboards}
}

// Handle processes a page:... callback.
func (h *PageHandler) Handle(_ context.Context, req CallbackRequest) (*CallbackResponse, error) {
	cb, ok := presenter.ParsePageCallback(req.Data)
	if !ok {
		return &CallbackResponse{}, nil
	}

	owner, ok := h.pages.Owner(cb.Session)
	if !ok {
		return &CallbackResponse{Answer: presenter.MsgPageExpired, RemoveKeyboard: true}, nil
	}
	if owner != req.TelegramID {
		return &CallbackResponse{Answer: presenter.MsgNotYourPage, ShowAlert: true}, nil
	}

	if cb.Close {
		h.pages.Delete(cb.Session, req.TelegramID)
		return &CallbackResponse{RemoveKeyboard: true}, nil
	}

	source, ok := h.pages.Get(cb.Session, req.TelegramID)
	if !ok {
		return &CallbackResponse{Answer: presenter.MsgPageExpired, RemoveKeyboard: true}, nil
	}

	resp, err := renderPage(h.keyboards, cb.Session, source, cb.Index)
	if errors.Is(err, presenter.ErrPageOutOfRange) {
		return &CallbackResponse{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &CallbackResponse{Edit: resp}, nil
}
