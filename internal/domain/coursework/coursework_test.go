package coursework

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterActive_DropsEndedCoursesAndKeepsOrder(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	courses := []Course{
		{ID: 1, EndDate: now.Add(24 * time.Hour)},
		{ID: 2, EndDate: now.Add(-24 * time.Hour)},
		{ID: 3},
		{ID: 4, EndDate: now},
		{ID: 5, EndDate: now.Add(time.Second)},
	}

	active := FilterActive(courses, now)

	require.Len(t, active, 3)
	assert.Equal(t, int64(1), active[0].ID)
	assert.Equal(t, int64(3), active[1].ID)
	assert.Equal(t, int64(5), active[2].ID)
}

func TestFilterActive_Empty(t *testing.T) {
	assert.Empty(t, FilterActive(nil, time.Now()))
}

func TestCourse_Merge(t *testing.T) {
	progress := 40.0
	start := time.Unix(1700000000, 0)
	end := time.Unix(1710000000, 0)

	c := Course{ID: 7, FullName: "Algorithms", DisplayName: "Algo", Progress: &progress}
	merged := c.Merge(CourseDetail{
		ID:          7,
		DisplayName: "Algorithms I",
		StartDate:   start,
		EndDate:     end,
		Lecturers:   []Lecturer{{ID: 1, FullName: "Ada"}, {ID: 2, FullName: "Alan"}},
	})

	assert.Equal(t, "Algorithms I", merged.DisplayName)
	assert.Equal(t, start, merged.StartDate)
	assert.Equal(t, end, merged.EndDate)
	require.NotNil(t, merged.Progress)
	assert.Equal(t, 40.0, *merged.Progress)
	assert.Equal(t, []string{"Ada", "Alan"}, merged.LecturerNames())
	assert.Empty(t, c.Lecturers)
}
