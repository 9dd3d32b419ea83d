package moodle

import (
	"html"
	"strconv"
	"strings"

	"github.com/null2264/MoodleBot/internal/domain/coursework"
	"github.com/null2264/MoodleBot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to Domain Entity transformations
// ══════════════════════════════════════════════════════════════════════════════

// Mapper converts Moodle DTOs to coursework entities.
// It needs the site base URL to build course links that enrolment
// records do not carry.
type Mapper struct {
	baseURL string
}

// NewMapper creates a new Mapper for the site at baseURL.
func NewMapper(baseURL string) *Mapper {
	return &Mapper{baseURL: normalizeBaseURL(baseURL)}
}

// CourseViewURL returns the course page link.
func (m *Mapper) CourseViewURL(courseID int64) string {
	return m.baseURL + "course/view.php?id=" + strconv.FormatInt(courseID, 10)
}

// CourseFromEnrolment converts an enrolment record. Dates and lecturers are
// filled in later from the course detail.
func (m *Mapper) CourseFromEnrolment(dto EnrolledCourseDTO) coursework.Course {
	name := dto.DisplayName
	if name == "" {
		name = dto.FullName
	}

	c := coursework.Course{
		ID:          dto.ID,
		FullName:    html.UnescapeString(dto.FullName),
		DisplayName: html.UnescapeString(name),
		ViewURL:     m.CourseViewURL(dto.ID),
		StartDate:   timeutil.FromUnix(dto.StartDate),
		EndDate:     timeutil.FromUnix(dto.EndDate),
	}
	if dto.Progress != nil {
		p := clampPercent(*dto.Progress)
		c.Progress = &p
	}
	return c
}

// CourseDetailFromDTO converts a course detail record.
func (m *Mapper) CourseDetailFromDTO(dto CourseDetailDTO) coursework.CourseDetail {
	name := dto.DisplayName
	if name == "" {
		name = dto.FullName
	}

	lecturers := make([]coursework.Lecturer, 0, len(dto.Contacts))
	for _, c := range dto.Contacts {
		lecturers = append(lecturers, coursework.Lecturer{
			ID:       c.ID,
			FullName: strings.TrimSpace(c.FullName),
		})
	}

	return coursework.CourseDetail{
		ID:          dto.ID,
		DisplayName: html.UnescapeString(name),
		StartDate:   timeutil.FromUnix(dto.StartDate),
		EndDate:     timeutil.FromUnix(dto.EndDate),
		Lecturers:   lecturers,
	}
}

// EventFromDTO converts a calendar event.
func (m *Mapper) EventFromDTO(dto EventDTO) coursework.Event {
	e := coursework.Event{
		ID:           dto.ID,
		Name:         html.UnescapeString(dto.Name),
		Description:  dto.Description,
		URL:          dto.URL,
		TimeModified: timeutil.FromUnix(dto.TimeModified),
		Deadline:     timeutil.FromUnix(dto.TimeSort),
	}
	if dto.Course != nil {
		e.Course = coursework.CourseRef{
			ID:       dto.Course.ID,
			FullName: html.UnescapeString(dto.Course.FullName),
			ViewURL:  dto.Course.ViewURL,
		}
	}
	return e
}

// EventsFromDTO converts events preserving Moodle's order.
func (m *Mapper) EventsFromDTO(dtos []EventDTO) []coursework.Event {
	events := make([]coursework.Event, 0, len(dtos))
	for _, dto := range dtos {
		events = append(events, m.EventFromDTO(dto))
	}
	return events
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func normalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}
