// Package presenter formats data for Telegram display.
// Presenters handle the conversion from domain objects to user-friendly
// Telegram messages, keyboards, and other UI elements.
package presenter

import (
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// INLINE KEYBOARD TYPES
// These types represent Telegram inline keyboards in a library-agnostic way.
// The Telegram client converts them to the Bot API format.
// ══════════════════════════════════════════════════════════════════════════════

// InlineKeyboard represents an inline keyboard.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// InlineButton represents a single inline button.
type InlineButton struct {
	// Text is the button text.
	Text string

	// CallbackData is the callback data (for callback buttons).
	CallbackData string

	// URL is the URL to open (for URL buttons).
	URL string
}

// NewInlineKeyboard creates a new empty inline keyboard.
func NewInlineKeyboard() *InlineKeyboard {
	return &InlineKeyboard{
		Rows: make([][]InlineButton, 0),
	}
}

// AddRow adds a row of buttons. Empty rows are skipped.
func (k *InlineKeyboard) AddRow(buttons ...InlineButton) *InlineKeyboard {
	if len(buttons) == 0 {
		return k
	}
	k.Rows = append(k.Rows, buttons)
	return k
}

// IsEmpty returns true if the keyboard has no buttons.
func (k *InlineKeyboard) IsEmpty() bool {
	return k == nil || len(k.Rows) == 0
}

// CallbackButton creates a callback button.
func CallbackButton(text, callbackData string) InlineButton {
	return InlineButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// URLButton creates a URL button.
func URLButton(text, url string) InlineButton {
	return InlineButton{
		Text: text,
		URL:  url,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYBOARD BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// KeyboardBuilder builds inline keyboards for various handlers.
type KeyboardBuilder struct{}

// NewKeyboardBuilder creates a new KeyboardBuilder.
func NewKeyboardBuilder() *KeyboardBuilder {
	return &KeyboardBuilder{}
}

// ─────────────────────────────────────────────────────────────────────────────
// PAGINATION KEYBOARDS
// ─────────────────────────────────────────────────────────────────────────────

// PaginationKeyboard creates the navigation keyboard for a paged view.
// Buttons that would not move are omitted; a single page only gets the
// link and close buttons.
func (b *KeyboardBuilder) PaginationKeyboard(session string, index, total int, link string) *InlineKeyboard {
	kb := NewInlineKeyboard()

	if total > 1 {
		nav := make([]InlineButton, 0, 4)
		if index > 0 {
			nav = append(nav,
				CallbackButton("⏮", PageCallbackData(session, 0)),
				CallbackButton("◀️", PageCallbackData(session, index-1)),
			)
		}
		nav = append(nav, CallbackButton(fmt.Sprintf("%d/%d", index+1, total), PageCallbackData(session, index)))
		if index < total-1 {
			nav = append(nav,
				CallbackButton("▶️", PageCallbackData(session, index+1)),
				CallbackButton("⏭", PageCallbackData(session, total-1)),
			)
		}
		kb.AddRow(nav...)
	}

	actions := make([]InlineButton, 0, 2)
	if link != "" {
		actions = append(actions, URLButton("🔗 Open in Moodle", link))
	}
	actions = append(actions, CallbackButton("✖️ Close", PageCloseData(session)))
	kb.AddRow(actions...)

	return kb
}

// ─────────────────────────────────────────────────────────────────────────────
// HELP KEYBOARDS
// ─────────────────────────────────────────────────────────────────────────────

// HelpKeyboard creates the keyboard shown with /help and /start.
func (b *KeyboardBuilder) HelpKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(
			CallbackButton("📝 Register", "cmd:register"),
		).
		AddRow(
			CallbackButton("📅 Homework", "cmd:homework"),
			CallbackButton("📚 Courses", "cmd:courses"),
		)
}
