package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/dosewatch/internal/model"
)

type MedicationStore struct {
	db *sql.DB
}

func NewMedicationStore(db *sql.DB) *MedicationStore {
	return &MedicationStore{db: db}
}

func scanMedication(scanner interface{ Scan(...any) error }) (*model.Medication, error) {
	var m model.Medication
	err := scanner.Scan(
		&m.ID, &m.UserID, &m.Name, &m.Dosage, &m.Stock,
		&m.AlertThreshold, &m.IntervalHours, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const medicationCols = `id, user_id, name, dosage, stock, alert_threshold, interval_hours, created_at, updated_at`

func (s *MedicationStore) Create(userID int64, name, dosage string, stock, alertThreshold, intervalHours int) (*model.Medication, error) {
	result, err := s.db.Exec(
		`INSERT INTO medications (user_id, name, dosage, stock, alert_threshold, interval_hours) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, name, dosage, stock, alertThreshold, intervalHours,
	)
	if err != nil {
		return nil, fmt.Errorf("insert medication: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *MedicationStore) GetByID(id int64) (*model.Medication, error) {
	row := s.db.QueryRow(`SELECT `+medicationCols+` FROM medications WHERE id = ?`, id)
	m, err := scanMedication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

// List returns every medication in the system, used by the dose monitor sweep.
func (s *MedicationStore) List() ([]model.Medication, error) {
	rows, err := s.db.Query(`SELECT ` + medicationCols + ` FROM medications ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	defer rows.Close()

	var meds []model.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, *m)
	}
	return meds, rows.Err()
}

func (s *MedicationStore) ListByUser(userID int64) ([]model.Medication, error) {
	rows, err := s.db.Query(
		`SELECT `+medicationCols+` FROM medications WHERE user_id = ? ORDER BY name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list medications by user: %w", err)
	}
	defer rows.Close()

	var meds []model.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, *m)
	}
	return meds, rows.Err()
}

func (s *MedicationStore) Update(id int64, name, dosage string, alertThreshold, intervalHours int) (*model.Medication, error) {
	_, err := s.db.Exec(
		`UPDATE medications SET name = ?, dosage = ?, alert_threshold = ?, interval_hours = ?, updated_at = datetime('now') WHERE id = ?`,
		name, dosage, alertThreshold, intervalHours, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update medication: %w", err)
	}
	return s.GetByID(id)
}

// UpdateStock sets the stock to an absolute value (manual stock edit).
func (s *MedicationStore) UpdateStock(id int64, stock int) (*model.Medication, error) {
	_, err := s.db.Exec(
		`UPDATE medications SET stock = ?, updated_at = datetime('now') WHERE id = ?`,
		stock, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update stock: %w", err)
	}
	return s.GetByID(id)
}

func (s *MedicationStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM medications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete medication: %w", err)
	}
	return nil
}
