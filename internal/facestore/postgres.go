package facestore

import (
	"context"
	"database/sql"
	"errors"
)

// Postgres stores templates in the face_templates table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Add(ctx context.Context, t Template) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO face_templates (id, student_id, sample_ref, quality, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.StudentID, t.SampleRef, t.Quality, t.CreatedAt)
	return err
}

func (p *Postgres) ListByStudent(ctx context.Context, studentID string) ([]Template, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, student_id, sample_ref, quality, created_at
		FROM face_templates
		WHERE student_id = $1
		ORDER BY created_at
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.StudentID, &t.SampleRef, &t.Quality, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) Get(ctx context.Context, templateID string) (Template, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, student_id, sample_ref, quality, created_at
		FROM face_templates WHERE id = $1
	`, templateID)
	var t Template
	if err := row.Scan(&t.ID, &t.StudentID, &t.SampleRef, &t.Quality, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, ErrNotFound
		}
		return Template{}, err
	}
	return t, nil
}

func (p *Postgres) Delete(ctx context.Context, templateID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM face_templates WHERE id = $1`, templateID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CountByStudent(ctx context.Context, studentID string) (int, error) {
	row := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM face_templates WHERE student_id = $1`, studentID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
