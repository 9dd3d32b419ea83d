package moodle

import (
	"encoding/json"
	"fmt"

	"github.com/null2264/MoodleBot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// Exception is the error payload Moodle returns with HTTP 200 from
// webservice/rest/server.php.
type Exception struct {
	// Exception is the PHP exception class, e.g. "moodle_exception".
	Exception string `json:"exception"`

	// ErrorCode is Moodle's machine-readable code, e.g. "invalidtoken".
	ErrorCode string `json:"errorcode"`

	// Message is the human-readable message.
	Message string `json:"message"`
}

// Error implements error.
func (e *Exception) Error() string {
	return fmt.Sprintf("moodle exception %s: %s", e.ErrorCode, e.Message)
}

// Unwrap maps the exception to a shared error kind.
func (e *Exception) Unwrap() error {
	switch e.ErrorCode {
	case "invalidtoken", "accessexception", "requireloginerror":
		return shared.ErrUnauthorized
	case "invalidrecord", "invalidrecordunknown":
		return shared.ErrNotFound
	default:
		return shared.ErrServiceUnavailable
	}
}

// parseException returns a non-nil *Exception when body is Moodle's error shape.
func parseException(body []byte) *Exception {
	if len(body) == 0 || body[0] != '{' {
		return nil
	}
	var exc Exception
	if err := json.Unmarshal(body, &exc); err != nil {
		return nil
	}
	if exc.Exception == "" && exc.ErrorCode == "" {
		return nil
	}
	return &exc
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGIN
// ══════════════════════════════════════════════════════════════════════════════

// TokenResponseDTO is the response of login/token.php.
// On failure Moodle returns {"error": "...", "errorcode": "invalidlogin"}.
type TokenResponseDTO struct {
	Token        string `json:"token"`
	PrivateToken string `json:"privatetoken,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorCode    string `json:"errorcode,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SITE INFO
// ══════════════════════════════════════════════════════════════════════════════

// SiteInfoDTO is the subset of core_webservice_get_site_info used by the bot.
type SiteInfoDTO struct {
	SiteName string `json:"sitename"`
	Username string `json:"username"`
	FullName string `json:"fullname"`
	// UserID is nil when the field is absent.
	UserID *int64 `json:"userid"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSES
// ══════════════════════════════════════════════════════════════════════════════

// EnrolledCourseDTO is one element of core_enrol_get_users_courses.
type EnrolledCourseDTO struct {
	ID          int64  `json:"id"`
	ShortName   string `json:"shortname"`
	FullName    string `json:"fullname"`
	DisplayName string `json:"displayname"`
	// Progress is null when completion tracking is disabled.
	Progress  *float64 `json:"progress"`
	Completed *bool    `json:"completed"`
	StartDate int64    `json:"startdate"`
	EndDate   int64    `json:"enddate"`
	Hidden    bool     `json:"hidden"`
}

// ContactDTO is a course contact (lecturer).
type ContactDTO struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullname"`
}

// CourseDetailDTO is one element of core_course_get_courses_by_field.
type CourseDetailDTO struct {
	ID          int64        `json:"id"`
	FullName    string       `json:"fullname"`
	DisplayName string       `json:"displayname"`
	ShortName   string       `json:"shortname"`
	StartDate   int64        `json:"startdate"`
	EndDate     int64        `json:"enddate"`
	Contacts    []ContactDTO `json:"contacts"`
}

// CoursesByFieldDTO is the response of core_course_get_courses_by_field.
type CoursesByFieldDTO struct {
	Courses  []CourseDetailDTO `json:"courses"`
	Warnings []WarningDTO      `json:"warnings"`
}

// WarningDTO is a non-fatal warning attached to some responses.
type WarningDTO struct {
	Item        string `json:"item"`
	ItemID      int64  `json:"itemid"`
	WarningCode string `json:"warningcode"`
	Message     string `json:"message"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CALENDAR
// ══════════════════════════════════════════════════════════════════════════════

// EventCourseDTO is the course summary embedded in a calendar event.
type EventCourseDTO struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullname"`
	ViewURL  string `json:"viewurl"`
}

// EventDTO is one calendar event.
type EventDTO struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	URL          string          `json:"url"`
	EventType    string          `json:"eventtype"`
	ModuleName   string          `json:"modulename"`
	Course       *EventCourseDTO `json:"course"`
	TimeStart    int64           `json:"timestart"`
	TimeModified int64           `json:"timemodified"`
	TimeSort     int64           `json:"timesort"`
}

// UpcomingViewDTO is the response of core_calendar_get_calendar_upcoming_view.
// Events is nil when the field is absent from the response.
type UpcomingViewDTO struct {
	Events *[]EventDTO `json:"events"`
}
