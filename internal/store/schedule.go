package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/dosewatch/internal/model"
)

type ScheduleStore struct {
	db *sql.DB
}

func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

func scanSchedule(scanner interface{ Scan(...any) error }) (*model.DoseSchedule, error) {
	var d model.DoseSchedule
	var confirmedAt sql.NullTime

	err := scanner.Scan(&d.ID, &d.MedicationID, &d.UserID, &d.ScheduledAt, &d.Status, &confirmedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	if confirmedAt.Valid {
		t := confirmedAt.Time
		d.ConfirmedAt = &t
	}
	return &d, nil
}

const scheduleCols = `id, medication_id, user_id, scheduled_at, status, confirmed_at, created_at`

func (s *ScheduleStore) Create(medicationID, userID int64, scheduledAt time.Time, status string, confirmedAt *time.Time) (*model.DoseSchedule, error) {
	var cAt sql.NullTime
	if confirmedAt != nil {
		cAt = sql.NullTime{Time: confirmedAt.UTC(), Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO dose_schedules (medication_id, user_id, scheduled_at, status, confirmed_at) VALUES (?, ?, ?, ?, ?)`,
		medicationID, userID, scheduledAt.UTC(), status, cAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ScheduleStore) GetByID(id int64) (*model.DoseSchedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleCols+` FROM dose_schedules WHERE id = ?`, id)
	d, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return d, nil
}

// ListByMedication returns all schedule rows for a medication, newest first.
func (s *ScheduleStore) ListByMedication(medicationID int64) ([]model.DoseSchedule, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduleCols+` FROM dose_schedules WHERE medication_id = ? ORDER BY scheduled_at DESC`,
		medicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedules by medication: %w", err)
	}
	defer rows.Close()

	var schedules []model.DoseSchedule
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *d)
	}
	return schedules, rows.Err()
}

// ListByUser returns all schedule rows owned by a user across all statuses,
// newest first.
func (s *ScheduleStore) ListByUser(userID int64) ([]model.DoseSchedule, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduleCols+` FROM dose_schedules WHERE user_id = ? ORDER BY scheduled_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedules by user: %w", err)
	}
	defer rows.Close()

	var schedules []model.DoseSchedule
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *d)
	}
	return schedules, rows.Err()
}

// ExistsAt reports whether a pending or missed row already exists for the
// medication at exactly the given due time. The dose monitor checks this
// before inserting a new pending row so overlapping sweeps cannot create
// duplicates.
func (s *ScheduleStore) ExistsAt(medicationID int64, scheduledAt time.Time) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM dose_schedules WHERE medication_id = ? AND scheduled_at = ? AND status IN ('pending', 'missed')`,
		medicationID, scheduledAt.UTC(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check schedule exists: %w", err)
	}
	return n > 0, nil
}

func (s *ScheduleStore) UpdateStatus(id int64, status string, confirmedAt *time.Time) error {
	var cAt sql.NullTime
	if confirmedAt != nil {
		cAt = sql.NullTime{Time: confirmedAt.UTC(), Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE dose_schedules SET status = ?, confirmed_at = ? WHERE id = ?`,
		status, cAt, id,
	)
	if err != nil {
		return fmt.Errorf("update schedule status: %w", err)
	}
	return nil
}

// ConfirmDose marks a pending schedule row as taken and decrements the
// medication's stock, floored at zero, in one transaction. A dose recorded
// without its stock decrement (or vice versa) would misreport adherence, so
// the two writes commit together.
func (s *ScheduleStore) ConfirmDose(scheduleID int64, confirmedAt time.Time) (*model.DoseSchedule, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var medicationID int64
	if err := tx.QueryRow(
		`SELECT medication_id FROM dose_schedules WHERE id = ? AND status = 'pending'`,
		scheduleID,
	).Scan(&medicationID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load pending schedule: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE dose_schedules SET status = 'taken', confirmed_at = ? WHERE id = ?`,
		confirmedAt.UTC(), scheduleID,
	); err != nil {
		return nil, fmt.Errorf("mark schedule taken: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE medications SET stock = MAX(stock - 1, 0), updated_at = datetime('now') WHERE id = ?`,
		medicationID,
	); err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s.GetByID(scheduleID)
}

// LogDose records a dose taken right now without a pending predecessor (the
// take-dose shortcut) and decrements stock in the same transaction.
func (s *ScheduleStore) LogDose(medicationID, userID int64, takenAt time.Time) (*model.DoseSchedule, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO dose_schedules (medication_id, user_id, scheduled_at, status, confirmed_at) VALUES (?, ?, ?, 'taken', ?)`,
		medicationID, userID, takenAt.UTC(), takenAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert taken schedule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE medications SET stock = MAX(stock - 1, 0), updated_at = datetime('now') WHERE id = ?`,
		medicationID,
	); err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s.GetByID(id)
}
