// Package session owns the attendance session lifecycle. Each session is an
// explicit state machine value behind a keyed map with per-session locking;
// the session manager is the only writer of session state.
package session

import (
	"errors"
	"sync"
	"time"

	"smartattend/internal/recognize"
	"smartattend/internal/reconcile"
)

// State of an attendance session.
type State string

const (
	StateOpen           State = "OPEN"
	StatePhotoSubmitted State = "PHOTO_SUBMITTED"
	StateFinalized      State = "FINALIZED"
	StateExpired        State = "EXPIRED"
	StateCancelled      State = "CANCELLED"
)

// Terminal reports whether the state accepts no further mutation.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateExpired || s == StateCancelled
}

// Check-in outcomes.
type Outcome string

const (
	OutcomeConfirmed Outcome = "CONFIRMED"
	OutcomeRejected  Outcome = "REJECTED"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrSessionClosed = errors.New("session is closed")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNoEvidence    = errors.New("no evidence to finalize; cancel the session instead")
	ErrNotOwner      = errors.New("caller does not own this session")
	ErrNotOnRoster   = errors.New("student is not on the session roster")
	ErrScheduleBusy  = errors.New("schedule already has an open session")
)

// CheckInRecord is one confirmed code+face check-in. Rejected attempts leave
// no record; at most one confirmed record exists per student.
type CheckInRecord struct {
	StudentID  string    `json:"student_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
	Confidence float64   `json:"confidence"`
}

// CheckInResult is what a check-in attempt returns to the student.
type CheckInResult struct {
	Outcome    Outcome   `json:"outcome"`
	Confidence float64   `json:"confidence"`
	RedeemedAt time.Time `json:"redeemed_at,omitempty"`
}

// Status is the queryable view of a session, safe at any lifecycle point.
type Status struct {
	SessionID      string    `json:"session_id"`
	ScheduleID     string    `json:"schedule_id"`
	State          State     `json:"state"`
	ConfirmedCount int       `json:"confirmed_count"`
	HasPhoto       bool      `json:"has_photo"`
	OpenedAt       time.Time `json:"opened_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Session is one attendance-taking window for a scheduled class meeting.
// The roster is frozen at open time; later enrollment changes do not reach
// an open session.
type Session struct {
	mu sync.Mutex

	ID         string
	ScheduleID string
	TeacherID  string
	OpenedAt   time.Time
	ExpiresAt  time.Time

	state      State
	roster     []string
	checkIns   map[string]CheckInRecord
	detections []recognize.Detection
	hasPhoto   bool
	roll       []reconcile.Record
}

func (s *Session) statusLocked() Status {
	return Status{
		SessionID:      s.ID,
		ScheduleID:     s.ScheduleID,
		State:          s.state,
		ConfirmedCount: len(s.checkIns),
		HasPhoto:       s.hasPhoto,
		OpenedAt:       s.OpenedAt,
		ExpiresAt:      s.ExpiresAt,
	}
}
