package repository

import (
	"database/sql"
	"fmt"
	"time"

	"brightpath/focus-tracker/internal/models"
)

// BreadcrumbRepository stores the session recovery breadcrumb in the
// local database. One row per student; a surviving row after a restart
// marks a session that never received its terminal write.
type BreadcrumbRepository struct {
	db *sql.DB
}

func NewBreadcrumbRepository(db *sql.DB) *BreadcrumbRepository {
	return &BreadcrumbRepository{db: db}
}

// Save writes (or replaces) the breadcrumb for the student.
func (r *BreadcrumbRepository) Save(crumb models.SessionBreadcrumb) error {
	query := `
		INSERT INTO session_breadcrumbs (student_id, session_id, started_at, last_sync_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(student_id) DO UPDATE SET
			session_id = excluded.session_id,
			started_at = excluded.started_at,
			last_sync_at = excluded.last_sync_at
	`
	_, err := r.db.Exec(query, crumb.StudentID, crumb.SessionID, crumb.StartedAt, crumb.LastSyncAt)
	if err != nil {
		return fmt.Errorf("failed to save breadcrumb: %w", err)
	}
	return nil
}

// Get returns the breadcrumb for the student, or nil if none exists.
func (r *BreadcrumbRepository) Get(studentID string) (*models.SessionBreadcrumb, error) {
	query := `
		SELECT student_id, session_id, started_at, last_sync_at
		FROM session_breadcrumbs
		WHERE student_id = ?
	`

	var crumb models.SessionBreadcrumb
	err := r.db.QueryRow(query, studentID).Scan(
		&crumb.StudentID,
		&crumb.SessionID,
		&crumb.StartedAt,
		&crumb.LastSyncAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get breadcrumb: %w", err)
	}
	return &crumb, nil
}

// Touch updates the breadcrumb's last sync time after a checkpoint.
func (r *BreadcrumbRepository) Touch(studentID string, syncedAt time.Time) error {
	_, err := r.db.Exec(
		`UPDATE session_breadcrumbs SET last_sync_at = ? WHERE student_id = ?`,
		syncedAt, studentID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch breadcrumb: %w", err)
	}
	return nil
}

// Clear removes the breadcrumb on clean session termination.
func (r *BreadcrumbRepository) Clear(studentID string) error {
	_, err := r.db.Exec(`DELETE FROM session_breadcrumbs WHERE student_id = ?`, studentID)
	if err != nil {
		return fmt.Errorf("failed to clear breadcrumb: %w", err)
	}
	return nil
}
