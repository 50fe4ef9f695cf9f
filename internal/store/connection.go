package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/dosewatch/internal/model"
)

type ConnectionStore struct {
	db *sql.DB
}

func NewConnectionStore(db *sql.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

func scanConnection(scanner interface{ Scan(...any) error }) (*model.Connection, error) {
	var c model.Connection
	err := scanner.Scan(&c.ID, &c.MasterID, &c.TargetID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const connectionCols = `id, master_id, target_id, status, created_at, updated_at`

func (s *ConnectionStore) Create(masterID, targetID int64) (*model.Connection, error) {
	result, err := s.db.Exec(
		`INSERT INTO connections (master_id, target_id) VALUES (?, ?)`,
		masterID, targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert connection: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ConnectionStore) GetByID(id int64) (*model.Connection, error) {
	row := s.db.QueryRow(`SELECT `+connectionCols+` FROM connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// Accept transitions a pending connection to accepted.
func (s *ConnectionStore) Accept(id int64) (*model.Connection, error) {
	_, err := s.db.Exec(
		`UPDATE connections SET status = 'accepted', updated_at = datetime('now') WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("accept connection: %w", err)
	}
	return s.GetByID(id)
}

// ListInvolving returns every connection where the user is either endpoint.
func (s *ConnectionStore) ListInvolving(userID int64) ([]model.Connection, error) {
	rows, err := s.db.Query(
		`SELECT `+connectionCols+` FROM connections WHERE master_id = ? OR target_id = ? ORDER BY created_at DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list connections involving user: %w", err)
	}
	defer rows.Close()
	return collectConnections(rows)
}

// ListAcceptedByMaster returns accepted connections initiated by the master.
func (s *ConnectionStore) ListAcceptedByMaster(masterID int64) ([]model.Connection, error) {
	rows, err := s.db.Query(
		`SELECT `+connectionCols+` FROM connections WHERE master_id = ? AND status = 'accepted'`,
		masterID,
	)
	if err != nil {
		return nil, fmt.Errorf("list accepted connections by master: %w", err)
	}
	defer rows.Close()
	return collectConnections(rows)
}

// ListAcceptedByTarget returns accepted connections pointing at the target.
func (s *ConnectionStore) ListAcceptedByTarget(targetID int64) ([]model.Connection, error) {
	rows, err := s.db.Query(
		`SELECT `+connectionCols+` FROM connections WHERE target_id = ? AND status = 'accepted'`,
		targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("list accepted connections by target: %w", err)
	}
	defer rows.Close()
	return collectConnections(rows)
}

// CountByMaster counts all connections a master has initiated, any status.
// Used to enforce the free-plan connection limit.
func (s *ConnectionStore) CountByMaster(masterID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM connections WHERE master_id = ?`, masterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count connections by master: %w", err)
	}
	return n, nil
}

func (s *ConnectionStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

func collectConnections(rows *sql.Rows) ([]model.Connection, error) {
	var conns []model.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}
