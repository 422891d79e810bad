// Package facestore persists enrolled face templates per student. A student
// needs a minimum number of templates before the live verification path will
// accept them; templates are enrolled and deleted by the student, outside of
// any session.
package facestore

import (
	"context"
	"errors"
	"time"
)

// Template is one enrolled biometric reference sample.
type Template struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	SampleRef string    `json:"sample_ref"`
	Quality   float64   `json:"quality"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrNotFound = errors.New("template not found")
	// ErrNotOwner rejects deleting another student's template.
	ErrNotOwner = errors.New("template belongs to another student")
)

// Store is the template persistence contract.
type Store interface {
	Add(ctx context.Context, t Template) error
	ListByStudent(ctx context.Context, studentID string) ([]Template, error)
	Get(ctx context.Context, templateID string) (Template, error)
	Delete(ctx context.Context, templateID string) error
	CountByStudent(ctx context.Context, studentID string) (int, error)
}
