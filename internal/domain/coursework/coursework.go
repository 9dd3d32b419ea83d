// Package coursework содержит доменную модель курсов и заданий Moodle.
// Сущности эфемерны: пересчитываются при каждом запросе и нигде не хранятся.
package coursework

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE
// ══════════════════════════════════════════════════════════════════════════════

// Lecturer - контакт курса (преподаватель).
type Lecturer struct {
	ID       int64
	FullName string
}

// CourseDetail - подробные сведения о курсе из core_course_get_courses_by_field.
type CourseDetail struct {
	ID          int64
	DisplayName string
	StartDate   time.Time
	EndDate     time.Time
	Lecturers   []Lecturer
}

// Course - курс, на который записан пользователь.
// Объединяет запись о зачислении (прогресс) и подробные сведения о курсе.
type Course struct {
	ID          int64
	FullName    string
	DisplayName string
	ViewURL     string
	StartDate   time.Time
	// EndDate равен нулевому времени, если у курса нет даты окончания.
	EndDate time.Time
	// Progress в процентах (0-100); nil, если отслеживание выполнения выключено.
	Progress  *float64
	Lecturers []Lecturer
}

// HasEndDate возвращает true, если у курса задана дата окончания.
func (c Course) HasEndDate() bool {
	return !c.EndDate.IsZero()
}

// IsActiveAt возвращает true, если курс не закончился к моменту now.
// Курсы без даты окончания считаются активными.
func (c Course) IsActiveAt(now time.Time) bool {
	if !c.HasEndDate() {
		return true
	}
	return c.EndDate.After(now)
}

// Merge дополняет курс подробными сведениями.
func (c Course) Merge(detail CourseDetail) Course {
	c.StartDate = detail.StartDate
	c.EndDate = detail.EndDate
	if detail.DisplayName != "" {
		c.DisplayName = detail.DisplayName
	}
	c.Lecturers = append([]Lecturer(nil), detail.Lecturers...)
	return c
}

// LecturerNames возвращает имена преподавателей в исходном порядке.
func (c Course) LecturerNames() []string {
	names := make([]string, 0, len(c.Lecturers))
	for _, l := range c.Lecturers {
		names = append(names, l.FullName)
	}
	return names
}

// FilterActive оставляет только курсы, не закончившиеся к моменту now.
// Относительный порядок сохраняется.
func FilterActive(courses []Course, now time.Time) []Course {
	active := make([]Course, 0, len(courses))
	for _, c := range courses {
		if c.IsActiveAt(now) {
			active = append(active, c)
		}
	}
	return active
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT
// ══════════════════════════════════════════════════════════════════════════════

// CourseRef - краткая ссылка на курс внутри события календаря.
type CourseRef struct {
	ID       int64
	FullName string
	ViewURL  string
}

// Event - предстоящее событие календаря (домашнее задание).
type Event struct {
	ID   int64
	Name string
	// Description содержит исходный HTML.
	Description  string
	URL          string
	Course       CourseRef
	TimeModified time.Time
	// Deadline соответствует полю timesort.
	Deadline time.Time
}
