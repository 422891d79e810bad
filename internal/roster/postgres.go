package roster

import (
	"context"
	"database/sql"
	"errors"
)

// Postgres reads the platform's schedule and enrollment tables.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed provider.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Roster(ctx context.Context, scheduleID string) ([]string, error) {
	var exists bool
	row := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schedules WHERE id = $1)`, scheduleID)
	if err := row.Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrScheduleNotFound
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT e.student_id
		FROM enrollments e
		JOIN schedules s ON s.section_id = e.section_id
		WHERE s.id = $1
		ORDER BY e.student_id
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		students = append(students, id)
	}
	return students, rows.Err()
}

func (p *Postgres) Owns(ctx context.Context, scheduleID, teacherID string) (bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT teacher_id FROM schedules WHERE id = $1`, scheduleID)
	var owner string
	if err := row.Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrScheduleNotFound
		}
		return false, err
	}
	return owner == teacherID, nil
}
