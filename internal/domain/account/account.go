// Package account содержит доменную модель привязки пользователя чата
// к учётной записи Moodle. Здесь нет внешних зависимостей.
package account

import (
	"context"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// UserID идентифицирует пользователя чат-платформы.
// Хранится как строка, так же как и в таблице токенов.
type UserID string

// UserIDFromInt строит UserID из числового идентификатора платформы.
func UserIDFromInt(id int64) UserID {
	return UserID(strconv.FormatInt(id, 10))
}

// IsValid проверяет, что идентификатор не пустой.
func (u UserID) IsValid() bool {
	return strings.TrimSpace(string(u)) != ""
}

// String возвращает строковое представление идентификатора.
func (u UserID) String() string {
	return string(u)
}

// Token - долгоживущий токен веб-сервиса Moodle.
// Значение непрозрачно и никогда не попадает в логи.
type Token struct {
	UserID UserID
	Value  string
}

// IsZero возвращает true, если токен не задан.
func (t Token) IsZero() bool {
	return t.Value == ""
}

// String скрывает значение токена при форматировании.
func (t Token) String() string {
	return "Token{user=" + string(t.UserID) + ", value=[REDACTED]}"
}

// Credentials - логин и пароль Moodle, собранные в ходе регистрации.
// Живут только в памяти одного сценария регистрации и не сохраняются.
type Credentials struct {
	Username string
	Password string
}

// String скрывает пароль при форматировании.
func (c Credentials) String() string {
	return "Credentials{username=" + c.Username + ", password=[REDACTED]}"
}

// Clear затирает собранные данные.
func (c *Credentials) Clear() {
	c.Username = ""
	c.Password = ""
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// TokenStore - хранилище вида user_id -> token.
type TokenStore interface {
	// Get возвращает токен пользователя.
	// Второе значение false, если пользователь не зарегистрирован.
	Get(ctx context.Context, userID UserID) (Token, bool, error)

	// Put сохраняет токен пользователя.
	// Возвращает shared.ErrAlreadyRegistered, если токен уже существует.
	Put(ctx context.Context, token Token) error
}

// Profile - сведения о пользователе Moodle из core_webservice_get_site_info.
type Profile struct {
	UserID   string
	Username string
	FullName string
	SiteName string
}
