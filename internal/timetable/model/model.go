package model

import "time"

// Days follow the usual uppercase convention shared with roles and
// attendance statuses.
const (
	DayMonday    = "MONDAY"
	DayTuesday   = "TUESDAY"
	DayWednesday = "WEDNESDAY"
	DayThursday  = "THURSDAY"
	DayFriday    = "FRIDAY"
	DaySaturday  = "SATURDAY"
	DaySunday    = "SUNDAY"
)

func ValidDay(day string) bool {
	switch day {
	case DayMonday, DayTuesday, DayWednesday, DayThursday, DayFriday, DaySaturday, DaySunday:
		return true
	}
	return false
}

// Timetable is a recurring teaching slot. StartTime and EndTime are
// wall-clock "HH:MM" strings; ordering is lexicographic which matches
// chronological order for that format.
type Timetable struct {
	ID          int64
	SchoolID    int64
	TeacherID   int64
	Subject     string
	StartTime   string
	EndTime     string
	DayOfWeek   string
	MaxStudents int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Booking records one student holding a seat in a timetable slot.
type Booking struct {
	ID          int64
	TimetableID int64
	StudentID   int64
	CreatedAt   time.Time
}
