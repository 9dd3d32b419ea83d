package presenter

import (
	"fmt"
	"html"
	"strconv"

	"github.com/null2264/MoodleBot/internal/application/saga"
)

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGES
// Тексты ответов бота. Все сообщения в разметке Telegram HTML.
// ══════════════════════════════════════════════════════════════════════════════

// ParseModeHTML - режим разметки всех сообщений бота.
const ParseModeHTML = "HTML"

// Message - готовое к отправке сообщение.
type Message struct {
	ChatID   int64
	Text     string
	Keyboard *InlineKeyboard
	// Protect запрещает пересылку и сохранение сообщения.
	Protect bool
}

// Общие ответы.
const (
	MsgNotRegistered       = "You're not registered, please do /register first"
	MsgRemoteUnavailable   = "⚠️ Moodle is not responding right now, please try again later."
	MsgInternalError       = "😔 Something went wrong, please try again later."
	MsgRateLimited         = "⏳ Slow down a little, please try again in a moment."
	MsgRegistrationBusy    = "You already have a registration in progress, please check your private messages."
	MsgNoUpcomingEvents    = "🎉 No upcoming events!"
	MsgNoActiveCourses     = "📭 You have no active courses."
	MsgPageExpired         = "This view has expired, please run the command again."
	MsgNotYourPage         = "Only the person who ran the command can use these buttons."
	MsgUnknownCommand      = "❓ Unknown command, use /help to see what I can do."
	MsgTokenRejected       = "🔑 Moodle rejected your token, it may have been revoked on the Moodle side."
	MsgNotFound            = "🔍 Moodle could not find that, please try again later."
)

// Mention возвращает HTML-упоминание пользователя Telegram.
func Mention(userID int64, name string) string {
	if name == "" {
		name = "user"
	}
	return fmt.Sprintf(`<a href="tg://user?id=%s">%s</a>`, strconv.FormatInt(userID, 10), html.EscapeString(name))
}

// HelpText - ответ на /help и /start.
func HelpText() string {
	return "<b>Help with Elearning Bot</b>\n\n" +
		"To use this bot you'll need to be registered first, use /register to start the registration.\n" +
		"To get upcoming events use /homework.\n" +
		"To see your active courses use /courses.\n" +
		"To see your elearning user id use /id."
}

// UserIDText - ответ на /id.
func UserIDText(mention, moodleUserID string) string {
	return fmt.Sprintf("%s, your elearning user id is <code>%s</code>", mention, html.EscapeString(moodleUserID))
}

// ─────────────────────────────────────────────────────────────────────────────
// REGISTRATION NOTICES
// ─────────────────────────────────────────────────────────────────────────────

// RenderNotice превращает уведомление сценария регистрации в сообщение.
// Только итог регистрации содержит секреты; он защищён от пересылки.
func RenderNotice(n saga.Notice) Message {
	msg := Message{ChatID: n.ChatID}

	switch n.Kind {
	case saga.NoticeAlreadyRegistered:
		msg.Text = "You already have token registered!"
	case saga.NoticeCheckPrivate:
		msg.Text = "Please check your DM to complete the registration!"
	case saga.NoticePrivateUnavailable:
		msg.Text = n.Mention + ", I can't message you privately. Please open a chat with me, press Start and run /register again."
	case saga.NoticeUsernamePrompt:
		msg.Text = "<b>Username?</b>\n<i>*Usually registered as your student ID.</i>"
	case saga.NoticePasswordPrompt:
		msg.Text = "<b>Password?</b>\n<i>*This will not stored in the bot's database!</i>"
	case saga.NoticeTimedOut:
		msg.Text = "Timed Out! Cancelled"
	case saga.NoticeInvalidLogin:
		msg.Text = "<b>Registration Failed</b>\nInvalid login, please try again"
	case saga.NoticeRemoteUnavailable:
		msg.Text = "<b>Registration Failed</b>\n" + MsgRemoteUnavailable
	case saga.NoticeInternalError:
		msg.Text = "<b>Registration Failed</b>\n" + MsgInternalError
	case saga.NoticeSummary:
		msg.Text = registrationSummary(n)
		msg.Protect = true
	case saga.NoticeAcknowledged:
		msg.Text = "<b>Registration Success</b>\nCongratulation " + n.Mention + ", your token successfully registered!"
	default:
		msg.Text = MsgInternalError
	}

	return msg
}

func registrationSummary(n saga.Notice) string {
	return "<b>User Information</b>\n" +
		"Congratulation your token successfully registered!\n\n" +
		"<b>Your account information</b>:\n" +
		"Username: <code>" + html.EscapeString(n.Username) + "</code>\n" +
		"Password: <tg-spoiler>" + html.EscapeString(n.Password) + "</tg-spoiler>\n" +
		"Token: <tg-spoiler>" + html.EscapeString(n.Token) + "</tg-spoiler>"
}
