package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without a time zone, such as a candidate meeting day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, fmt.Errorf("scheduler: invalid date %q: %w", value, err)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Start returns midnight of the day in loc.
func (d Date) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// TimeOfDay is a wall-clock offset from midnight with minute precision.
// The value 24:00 denotes the end of the day.
type TimeOfDay int

// EndOfDay is the 24:00 boundary.
const EndOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay parses HH:MM in the range 00:00..24:00.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	value = strings.TrimSpace(value)
	hourPart, minutePart, ok := strings.Cut(value, ":")
	if !ok {
		return 0, fmt.Errorf("scheduler: invalid time of day %q", value)
	}
	hour, err := strconv.Atoi(hourPart)
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid time of day %q", value)
	}
	minute, err := strconv.Atoi(minutePart)
	if err != nil || minute < 0 || minute > 59 || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("scheduler: invalid time of day %q", value)
	}
	tod := TimeOfDay(hour*60 + minute)
	if tod > EndOfDay {
		return 0, fmt.Errorf("scheduler: invalid time of day %q", value)
	}
	return tod, nil
}

// On anchors the time of day to date in loc.
func (t TimeOfDay) On(date Date, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	minutes := int(t)
	return time.Date(date.Year, date.Month, date.Day, minutes/60, minutes%60, 0, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}
