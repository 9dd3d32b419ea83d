package handler

import (
	"context"

	"github.com/null2264/MoodleBot/internal/application/saga"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER HANDLER
// /register запускает диалог регистрации. Вопросы задаются только в личном
// чате; в группе бот лишь просит проверить личные сообщения. Все ответы
// отправляет сам сценарий, поэтому обработчик ничего не возвращает.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterHandler handles the /register command.
type RegisterHandler struct {
	registrations RegistrationStarter
}

// NewRegisterHandler creates a new RegisterHandler.
func NewRegisterHandler(registrations RegistrationStarter) *RegisterHandler {
	return &RegisterHandler{registrations: registrations}
}

// Handle starts a registration flow for the requesting user.
// shared.ErrRegistrationInProgress and storage errors are returned unchanged.
func (h *RegisterHandler) Handle(ctx context.Context, req CommandRequest) (*Response, error) {
	params := saga.FlowParams{
		UserID:        req.UserID(),
		PrivateChatID: req.TelegramID,
		Origin: saga.Origin{
			ChatID: req.ChatID,
			Shared: !req.Private,
		},
		Mention: req.Mention(),
	}

	if err := h.registrations.Register(ctx, params); err != nil {
		return nil, err
	}
	return nil, nil
}
