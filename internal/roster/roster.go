// Package roster looks up class enrollment and schedule ownership. The
// wider platform owns these tables; this subsystem only reads them, and a
// session freezes its roster at open time.
package roster

import (
	"context"
	"errors"
)

var ErrScheduleNotFound = errors.New("schedule not found")

// Provider answers the two questions the attendance core asks of the
// institution data: who is enrolled, and who teaches the slot.
type Provider interface {
	// Roster returns the ids of students enrolled in the schedule's course.
	Roster(ctx context.Context, scheduleID string) ([]string, error)
	// Owns reports whether the teacher owns the schedule slot.
	Owns(ctx context.Context, scheduleID, teacherID string) (bool, error)
}

// Static is a fixed in-memory provider for dev and tests.
type Static struct {
	Rosters map[string][]string
	Owners  map[string]string
}

func (s *Static) Roster(_ context.Context, scheduleID string) ([]string, error) {
	students, ok := s.Rosters[scheduleID]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	out := make([]string, len(students))
	copy(out, students)
	return out, nil
}

func (s *Static) Owns(_ context.Context, scheduleID, teacherID string) (bool, error) {
	owner, ok := s.Owners[scheduleID]
	if !ok {
		return false, ErrScheduleNotFound
	}
	return owner == teacherID, nil
}
