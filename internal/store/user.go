package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/dosewatch/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var stripeID sql.NullString
	err := scanner.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.Plan, &stripeID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if stripeID.Valid {
		u.StripeCustomerID = stripeID.String
	}
	return &u, nil
}

const userCols = `id, email, password_hash, name, role, plan, stripe_customer_id, created_at, updated_at`

func (s *UserStore) Create(email, passwordHash, name, role string) (*model.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (email, password_hash, name, role) VALUES (?, ?, ?, ?)`,
		email, passwordHash, name, role,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByStripeCustomerID(customerID string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE stripe_customer_id = ?`, customerID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by stripe customer: %w", err)
	}
	return u, nil
}

func (s *UserStore) UpdateName(id int64, name string) (*model.User, error) {
	_, err := s.db.Exec(
		`UPDATE users SET name = ?, updated_at = datetime('now') WHERE id = ?`,
		name, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) UpdatePlan(id int64, plan string) error {
	_, err := s.db.Exec(
		`UPDATE users SET plan = ?, updated_at = datetime('now') WHERE id = ?`,
		plan, id,
	)
	if err != nil {
		return fmt.Errorf("update user plan: %w", err)
	}
	return nil
}

func (s *UserStore) SetStripeCustomerID(id int64, customerID string) error {
	_, err := s.db.Exec(
		`UPDATE users SET stripe_customer_id = ?, updated_at = datetime('now') WHERE id = ?`,
		customerID, id,
	)
	if err != nil {
		return fmt.Errorf("set stripe customer id: %w", err)
	}
	return nil
}

func (s *UserStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
