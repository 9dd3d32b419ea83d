package presenter

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/null2264/MoodleBot/internal/domain/coursework"
	"github.com/null2264/MoodleBot/pkg/render"
	"github.com/null2264/MoodleBot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAGE FORMATTERS
// ══════════════════════════════════════════════════════════════════════════════

// Размеры индикатора прогресса курса.
const (
	progressBarLength = 10
	// maxBodyRunes оставляет запас под заголовок и поля в пределах 4096 символов сообщения.
	maxBodyRunes = 3000
)

// EventPage форматирует событие календаря.
func EventPage(event coursework.Event) Page {
	return Page{
		Title: strings.TrimSuffix(event.Name, " is due"),
		URL:   event.URL,
		Author: Author{
			Name: event.Course.FullName,
			URL:  event.Course.ViewURL,
		},
		Body: render.HTMLToText(event.Description),
		Fields: []Field{
			{Name: "Last Modified", Value: timeutil.FormatLongStr(event.TimeModified)},
			{Name: "Deadline", Value: timeutil.FormatLongStr(event.Deadline)},
		},
	}
}

// CoursePage форматирует курс. Поле прогресса опускается, если Moodle
// не отслеживает выполнение курса.
func CoursePage(course coursework.Course) Page {
	fields := []Field{
		{Name: "Start", Value: timeutil.FormatDateStr(course.StartDate)},
		{Name: "End", Value: courseEnd(course)},
	}

	if course.Progress != nil {
		fields = append(fields, Field{
			Name:  "Progress",
			Value: fmt.Sprintf("%s %.0f%%", render.ProgressBar(*course.Progress, 100, progressBarLength, false), *course.Progress),
		})
	}

	lecturers := "-"
	if names := course.LecturerNames(); len(names) > 0 {
		lecturers = strings.Join(names, ", ")
	}
	fields = append(fields, Field{Name: "Lecturers", Value: lecturers})

	title := course.DisplayName
	if title == "" {
		title = course.FullName
	}

	return Page{
		Title:  title,
		URL:    course.ViewURL,
		Fields: fields,
	}
}

func courseEnd(course coursework.Course) string {
	if !course.HasEndDate() {
		return "No end date"
	}
	return timeutil.FormatDateStr(course.EndDate)
}

// ══════════════════════════════════════════════════════════════════════════════
// HTML RENDERING
// ══════════════════════════════════════════════════════════════════════════════

// RenderHTML отрисовывает страницу в разметке Telegram HTML.
func RenderHTML(page Page) string {
	var sb strings.Builder

	if page.Author.Name != "" {
		sb.WriteString("📚 ")
		sb.WriteString(link(page.Author.Name, page.Author.URL))
		sb.WriteString("\n")
	}

	sb.WriteString("<b>")
	sb.WriteString(link(page.Title, page.URL))
	sb.WriteString("</b>\n")

	if body := truncate(page.Body, maxBodyRunes); body != "" {
		sb.WriteString("\n")
		sb.WriteString(render.TelegramHTML(body))
		sb.WriteString("\n")
	}

	if len(page.Fields) > 0 {
		sb.WriteString("\n")
		for _, f := range page.Fields {
			fmt.Fprintf(&sb, "<b>%s:</b> %s\n", html.EscapeString(f.Name), html.EscapeString(f.Value))
		}
	}

	if page.Footer != "" {
		sb.WriteString("\n<i>")
		sb.WriteString(html.EscapeString(page.Footer))
		sb.WriteString("</i>")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func link(text, url string) string {
	if url == "" {
		return html.EscapeString(text)
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text))
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
