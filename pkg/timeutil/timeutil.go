// Package timeutil provides timezone-aware conversion and formatting for
// Moodle timestamps. Moodle reports all times as Unix epochs; the bot shows
// them in a single configured display timezone.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Display layouts.
const (
	// FormatLong matches the event page layout (Monday, 2 January 2006, 15:04).
	FormatLong = "Monday, 2 January 2006, 15:04"
	// FormatDate is a date-only layout (2 January 2006).
	FormatDate = "2 January 2006"
)

var location atomic.Pointer[time.Location]

func init() {
	location.Store(time.Local)
}

// SetLocation changes the display timezone. A nil location resets it to time.Local.
func SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	location.Store(loc)
}

// LoadLocation sets the display timezone by IANA name (e.g. "Asia/Jakarta").
// An empty name keeps time.Local.
func LoadLocation(name string) error {
	if name == "" {
		SetLocation(nil)
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("load location %q: %w", name, err)
	}
	SetLocation(loc)
	return nil
}

// Location returns the display timezone.
func Location() *time.Location {
	return location.Load()
}

// FromUnix converts a Moodle epoch to time.Time.
// Moodle uses 0 for "not set", which maps to the zero time.
func FromUnix(epoch int64) time.Time {
	if epoch <= 0 {
		return time.Time{}
	}
	return time.Unix(epoch, 0).UTC()
}

// Format formats t in the display timezone. The zero time renders as "-".
func Format(t time.Time, layout string) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(Location()).Format(layout)
}

// FormatLongStr formats t with FormatLong in the display timezone.
func FormatLongStr(t time.Time) string {
	return Format(t, FormatLong)
}

// FormatDateStr formats t with FormatDate in the display timezone.
func FormatDateStr(t time.Time) string {
	return Format(t, FormatDate)
}
