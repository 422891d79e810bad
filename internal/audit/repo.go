package audit

import (
	"context"
	"database/sql"
)

// Repository persists audit events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes one event. Replayed queue messages are ignored via the
// primary key so delivery can be at-least-once.
func (r *Repository) Insert(ctx context.Context, evt Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_audit (id, kind, session_id, student_id, confidence, outcome, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, evt.ID, evt.Kind, nullable(evt.SessionID), nullable(evt.StudentID), evt.Confidence, evt.Outcome, evt.At)
	return err
}

// ListBySession returns a session's audit trail, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, COALESCE(session_id, ''), COALESCE(student_id, ''), confidence, outcome, occurred_at
		FROM attendance_audit
		WHERE session_id = $1
		ORDER BY occurred_at
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.Kind, &evt.SessionID, &evt.StudentID, &evt.Confidence, &evt.Outcome, &evt.At); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
