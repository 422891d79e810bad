// Package audit records every verification attempt, successful or not.
// Events are published to the queue by the API process and persisted to
// Postgres by the worker.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartattend/internal/queue"
)

// Event kinds.
const (
	KindCheckIn     = "checkin_attempt"
	KindVerify      = "face_verify"
	KindEnroll      = "face_enroll"
	KindPhotoSubmit = "photo_submit"
)

// MessageType tags audit messages on the queue.
const MessageType = "audit"

// Event is one verification attempt.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id,omitempty"`
	StudentID  string    `json:"student_id,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Outcome    string    `json:"outcome"`
	At         time.Time `json:"at"`
}

// Recorder publishes events onto the queue. Recording is best-effort: a
// failed publish is logged, never surfaced to the caller.
type Recorder struct {
	q   queue.Queue
	log *zap.Logger
}

// NewRecorder creates a recorder. A nil queue disables recording.
func NewRecorder(q queue.Queue, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{q: q, log: log}
}

// Record publishes one event.
func (r *Recorder) Record(ctx context.Context, evt Event) {
	if r == nil || r.q == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		r.log.Warn("audit event marshal failed", zap.Error(err))
		return
	}
	if err := r.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		r.log.Warn("audit event publish failed", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

// Decode parses a queued audit message body.
func Decode(body []byte) (Event, error) {
	var evt Event
	err := json.Unmarshal(body, &evt)
	return evt, err
}
