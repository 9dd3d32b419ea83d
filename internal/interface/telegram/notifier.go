package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/null2264/MoodleBot/internal/application/saga"
	"github.com/null2264/MoodleBot/internal/infrastructure/external/telegram"
	"github.com/null2264/MoodleBot/internal/interface/telegram/presenter"
	"github.com/null2264/MoodleBot/pkg/logger"
)

// ErrChatUnreachable means Telegram refused to deliver to the chat, usually
// because the user never opened a private chat with the bot.
var ErrChatUnreachable = errors.New("telegram: chat unreachable")

// MessageSender sends one message.
type MessageSender interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) (*telegram.Message, error)
}

// Notifier delivers registration notices to Telegram chats.
type Notifier struct {
	sender MessageSender
	logger *slog.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(sender MessageSender, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{sender: sender, logger: log.With(logger.Component("notifier"))}
}

// Notify renders and sends a notice. Notice contents are never logged.
func (n *Notifier) Notify(ctx context.Context, notice saga.Notice) error {
	msg := presenter.RenderNotice(notice)

	_, err := n.sender.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:            msg.ChatID,
		Text:              msg.Text,
		ParseMode:         presenter.ParseModeHTML,
		DisableWebPreview: true,
		ProtectContent:    msg.Protect,
		ReplyMarkup:       convertKeyboard(msg.Keyboard),
	})
	if err == nil {
		return nil
	}

	n.logger.WarnContext(ctx, "notice not delivered",
		slog.Int("notice", int(notice.Kind)),
		slog.Int64("chat_id", msg.ChatID),
		logger.Err(err),
	)
	if telegram.IsForbidden(err) {
		return fmt.Errorf("%w: %w", ErrChatUnreachable, err)
	}
	return err
}
