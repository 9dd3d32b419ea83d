package handler

import (
	"context"

	"github.com/null2264/MoodleBot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSEWORK HANDLERS
// /homework, /courses и /id. Списки показываются по одному элементу на
// страницу; навигацию обрабатывает PageHandler.
// ══════════════════════════════════════════════════════════════════════════════

// CourseworkHandler handles the /homework, /courses and /id commands.
type CourseworkHandler struct {
	coursework CourseworkQuerier
	pages      *presenter.PageStore
	keyboards  *presenter.KeyboardBuilder
}

// NewCourseworkHandler creates a new CourseworkHandler.
func NewCourseworkHandler(
	coursework CourseworkQuerier,
	pages *presenter.PageStore,
	keyboards *presenter.KeyboardBuilder,
) *CourseworkHandler {
	return &CourseworkHandler{
		coursework: coursework,
		pages:      pages,
		keyboards:  keyboards,
	}
}

// Homework shows the user's upcoming events.
func (h *CourseworkHandler) Homework(ctx context.Context, req CommandRequest) (*Response, error) {
	events, err := h.coursework.GetHomework(ctx, req.UserID())
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return htmlResponse(presenter.MsgNoUpcomingEvents, nil), nil
	}

	return h.firstPage(req.TelegramID, presenter.NewPaginator(events, presenter.EventPage))
}

// Courses shows the user's active courses.
func (h *CourseworkHandler) Courses(ctx context.Context, req CommandRequest) (*Response, error) {
	courses, err := h.coursework.GetCourses(ctx, req.UserID())
	if err != nil {
		return nil, err
	}
	if len(courses) == 0 {
		return htmlResponse(presenter.MsgNoActiveCourses, nil), nil
	}

	return h.firstPage(req.TelegramID, presenter.NewPaginator(courses, presenter.CoursePage))
}

// MoodleID shows the user's Moodle user id.
func (h *CourseworkHandler) MoodleID(ctx context.Context, req CommandRequest) (*Response, error) {
	res, err := h.coursework.GetMoodleUserID(ctx, req.UserID())
	if err != nil {
		return nil, err
	}
	return htmlResponse(presenter.UserIDText(req.Mention(), res.MoodleUserID), nil), nil
}

func (h *CourseworkHandler) firstPage(owner int64, source presenter.PageSource) (*Response, error) {
	session := h.pages.Put(owner, source)
	return renderPage(h.keyboards, session, source, 0)
}

func renderPage(keyboards *presenter.KeyboardBuilder, session string, source presenter.PageSource, index int) (*Response, error) {
	page, err := source.RenderPage(index)
	if err != nil {
		return nil, err
	}
	kb := keyboards.PaginationKeyboard(session, index, source.PageCount(), page.URL)
	return htmlResponse(presenter.RenderHTML(page), kb), nil
}
