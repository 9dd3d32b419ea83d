package handler

import (
	"context"
	"fmt"
	"html"

	"github.com/null2264/MoodleBot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// START / HELP HANDLER
// /start - приветствие в личном чате, /help - список команд.
// ══════════════════════════════════════════════════════════════════════════════

// StartHandler handles the /start and /help commands.
type StartHandler struct {
	keyboards *presenter.KeyboardBuilder
}

// NewStartHandler creates a new StartHandler.
func NewStartHandler(keyboards *presenter.KeyboardBuilder) *StartHandler {
	return &StartHandler{keyboards: keyboards}
}

// Start greets the user and lists the commands.
func (h *StartHandler) Start(_ context.Context, req CommandRequest) (*Response, error) {
	name := req.FirstName
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("Hi, %s! 👋\n\n", html.EscapeString(name)) + presenter.HelpText()
	return htmlResponse(text, h.keyboards.HelpKeyboard()), nil
}

// Help lists the commands.
func (h *StartHandler) Help(_ context.Context, _ CommandRequest) (*Response, error) {
	return htmlResponse(presenter.HelpText(), h.keyboards.HelpKeyboard()), nil
}
