package presenter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAGINATOR
// Листает список по одному элементу на страницу. Сам пагинатор не хранит
// текущую позицию: её передаёт кнопка навигации.
// ══════════════════════════════════════════════════════════════════════════════

// ErrPageOutOfRange возвращается для индекса вне [0, PageCount).
var ErrPageOutOfRange = errors.New("presenter: page out of range")

// Author - строка над заголовком страницы (например, курс события).
type Author struct {
	Name string
	URL  string
}

// Field - именованное значение страницы.
type Field struct {
	Name  string
	Value string
}

// Page - одна страница постраничного просмотра.
type Page struct {
	Title  string
	URL    string
	Author Author
	// Body - текст с разметкой **жирный**; экранируется при отрисовке.
	Body   string
	Fields []Field
	Footer string
}

// PageSource - источник страниц, который хранится в PageStore.
type PageSource interface {
	PageCount() int
	RenderPage(index int) (Page, error)
}

// Paginator - неизменяемый постраничный просмотр элементов.
type Paginator[T any] struct {
	items  []T
	format func(item T) Page
}

// NewPaginator создаёт пагинатор над копией items.
func NewPaginator[T any](items []T, format func(item T) Page) *Paginator[T] {
	copied := make([]T, len(items))
	copy(copied, items)
	return &Paginator[T]{items: copied, format: format}
}

// PageCount возвращает число страниц.
func (p *Paginator[T]) PageCount() int {
	return len(p.items)
}

// RenderPage возвращает страницу с подвалом "Page i/N".
func (p *Paginator[T]) RenderPage(index int) (Page, error) {
	if index < 0 || index >= len(p.items) {
		return Page{}, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, index, len(p.items))
	}

	page := p.format(p.items[index])
	page.Footer = fmt.Sprintf("Page %d/%d", index+1, len(p.items))
	return page, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// CALLBACK DATA
// ─────────────────────────────────────────────────────────────────────────────

const (
	pagePrefix = "page:"
	pageClose  = "close"
)

// PageCallbackData кодирует переход на страницу: page:<session>:<index>.
func PageCallbackData(session string, index int) string {
	return pagePrefix + session + ":" + strconv.Itoa(index)
}

// PageCloseData кодирует закрытие просмотра.
func PageCloseData(session string) string {
	return pagePrefix + session + ":" + pageClose
}

// PageCallback - разобранные данные кнопки навигации.
type PageCallback struct {
	Session string
	Index   int
	Close   bool
}

// IsPageCallback сообщает, относится ли callback к постраничному просмотру.
func IsPageCallback(data string) bool {
	return strings.HasPrefix(data, pagePrefix)
}

// ParsePageCallback разбирает данные кнопки навигации.
func ParsePageCallback(data string) (PageCallback, bool) {
	rest, ok := strings.CutPrefix(data, pagePrefix)
	if !ok {
		return PageCallback{}, false
	}

	session, target, ok := strings.Cut(rest, ":")
	if !ok || session == "" {
		return PageCallback{}, false
	}

	if target == pageClose {
		return PageCallback{Session: session, Close: true}, true
	}

	index, err := strconv.Atoi(target)
	if err != nil || index < 0 {
		return PageCallback{}, false
	}
	return PageCallback{Session: session, Index: index}, true
}
