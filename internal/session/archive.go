package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"smartattend/internal/reconcile"
)

// Archiver persists the immutable final roll once a session is finalized.
type Archiver interface {
	SaveRoll(ctx context.Context, sessionID, scheduleID string, finalizedAt time.Time, roll []reconcile.Record) error
}

// PostgresArchiver writes final rolls to the attendance_records table.
type PostgresArchiver struct {
	db *sql.DB
}

// NewPostgresArchiver creates an archiver.
func NewPostgresArchiver(db *sql.DB) *PostgresArchiver {
	return &PostgresArchiver{db: db}
}

func (a *PostgresArchiver) SaveRoll(ctx context.Context, sessionID, scheduleID string, finalizedAt time.Time, roll []reconcile.Record) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range roll {
		sources := ""
		for i, s := range rec.Sources {
			if i > 0 {
				sources += "+"
			}
			sources += s
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (session_id, schedule_id, student_id, decision, sources, confidence, finalized_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, student_id) DO NOTHING
		`, sessionID, scheduleID, rec.StudentID, string(rec.Decision), sources, rec.Confidence, finalizedAt); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return tx.Commit()
}
