// Package verify implements the live face verification path: one freshly
// captured sample compared against a student's enrolled templates.
package verify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"smartattend/internal/audit"
	"smartattend/internal/faceclient"
)

// ErrNotEnrolled means the student has fewer templates than the minimum and
// cannot use the live verification path until they enroll.
var ErrNotEnrolled = errors.New("student has no enrolled face templates")

// matcher is the slice of the face service used for 1:1 verification.
type matcher interface {
	Verify(ctx context.Context, studentID, sampleRef string) (*faceclient.VerifyResult, error)
}

// counter reports enrolled template counts.
type counter interface {
	CountByStudent(ctx context.Context, studentID string) (int, error)
}

// Verifier checks a live sample against stored templates and returns the
// best match confidence. The acceptance threshold is applied by the session
// manager, not here.
type Verifier struct {
	templates    counter
	face         matcher
	minTemplates int
	audit        *audit.Recorder
	log          *zap.Logger
}

// New creates a verifier requiring minTemplates enrolled samples.
func New(templates counter, face matcher, minTemplates int, rec *audit.Recorder, log *zap.Logger) *Verifier {
	if minTemplates < 1 {
		minTemplates = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{templates: templates, face: face, minTemplates: minTemplates, audit: rec, log: log}
}

// Verify returns the match confidence for the sample, or ErrNotEnrolled.
// Every attempt lands in the audit trail.
func (v *Verifier) Verify(ctx context.Context, sessionID, studentID, sampleRef string) (float64, error) {
	n, err := v.templates.CountByStudent(ctx, studentID)
	if err != nil {
		return 0, fmt.Errorf("template count: %w", err)
	}
	if n < v.minTemplates {
		v.audit.Record(ctx, audit.Event{
			Kind:      audit.KindVerify,
			SessionID: sessionID,
			StudentID: studentID,
			Outcome:   "not_enrolled",
		})
		return 0, ErrNotEnrolled
	}

	res, err := v.face.Verify(ctx, studentID, sampleRef)
	if err != nil {
		v.audit.Record(ctx, audit.Event{
			Kind:      audit.KindVerify,
			SessionID: sessionID,
			StudentID: studentID,
			Outcome:   "error",
		})
		return 0, fmt.Errorf("face verify: %w", err)
	}

	v.audit.Record(ctx, audit.Event{
		Kind:       audit.KindVerify,
		SessionID:  sessionID,
		StudentID:  studentID,
		Confidence: res.Confidence,
		Outcome:    "scored",
	})
	v.log.Debug("live face verified",
		zap.String("student_id", studentID),
		zap.Float64("confidence", res.Confidence))
	return res.Confidence, nil
}
