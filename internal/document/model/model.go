package model

import "time"

const (
	StatusPresent = "PRESENT"
	StatusAbsent  = "ABSENT"
	StatusLate    = "LATE"
)

func ValidStatus(status string) bool {
	switch status {
	case StatusPresent, StatusAbsent, StatusLate:
		return true
	default:
		return false
	}
}

// Document is one attendance record: a user, a timetable slot, a day.
type Document struct {
	ID          int64
	UserID      int64
	SchoolID    int64
	TimetableID int64
	Date        time.Time
	Status      string
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
