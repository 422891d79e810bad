package facestore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartattend/internal/faceclient"
)

// gallery is the slice of the face service used during enrollment.
type gallery interface {
	Embed(ctx context.Context, sampleRef string) (*faceclient.EmbedResult, error)
	Enroll(ctx context.Context, studentID, sampleRef string) error
	Remove(ctx context.Context, studentID, templateID string) error
}

// Service handles student self-enrollment. Every accepted sample is stored
// as a template row and pushed into the face service gallery.
type Service struct {
	store Store
	face  gallery
	log   *zap.Logger
}

// NewService wires the enrollment service.
func NewService(store Store, face gallery, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, face: face, log: log}
}

// Enroll validates the sample with the face service and persists a template.
func (s *Service) Enroll(ctx context.Context, studentID, sampleRef string) (Template, error) {
	res, err := s.face.Embed(ctx, sampleRef)
	if err != nil {
		return Template{}, fmt.Errorf("embed sample: %w", err)
	}

	t := Template{
		ID:        uuid.NewString(),
		StudentID: studentID,
		SampleRef: sampleRef,
		Quality:   res.Score,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.face.Enroll(ctx, studentID, sampleRef); err != nil {
		return Template{}, fmt.Errorf("gallery enroll: %w", err)
	}
	if err := s.store.Add(ctx, t); err != nil {
		return Template{}, fmt.Errorf("store template: %w", err)
	}
	s.log.Info("face template enrolled",
		zap.String("student_id", studentID),
		zap.String("template_id", t.ID),
		zap.Float64("quality", t.Quality))
	return t, nil
}

// List returns the student's enrolled templates.
func (s *Service) List(ctx context.Context, studentID string) ([]Template, error) {
	return s.store.ListByStudent(ctx, studentID)
}

// Delete removes one of the student's own templates from both the store and
// the gallery. Dropping below the minimum makes the student ineligible for
// live verification until they re-enroll.
func (s *Service) Delete(ctx context.Context, studentID, templateID string) error {
	t, err := s.store.Get(ctx, templateID)
	if err != nil {
		return err
	}
	if t.StudentID != studentID {
		return ErrNotOwner
	}
	if err := s.face.Remove(ctx, studentID, templateID); err != nil {
		s.log.Warn("gallery remove failed", zap.String("template_id", templateID), zap.Error(err))
	}
	return s.store.Delete(ctx, templateID)
}

// Count reports how many templates the student has enrolled.
func (s *Service) Count(ctx context.Context, studentID string) (int, error) {
	return s.store.CountByStudent(ctx, studentID)
}
