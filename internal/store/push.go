package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/dosewatch/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

func scanPushToken(scanner interface{ Scan(...any) error }) (*model.PushToken, error) {
	var t model.PushToken
	err := scanner.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const pushTokenCols = `id, user_id, token, platform, created_at`

// Upsert registers a device token for a user. A token re-registered from a
// different account moves to the new user (device handed to someone else).
func (s *PushStore) Upsert(userID int64, token, platform string) (*model.PushToken, error) {
	_, err := s.db.Exec(
		`INSERT INTO push_tokens (user_id, token, platform) VALUES (?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET user_id = excluded.user_id, platform = excluded.platform`,
		userID, token, platform,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push token: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+pushTokenCols+` FROM push_tokens WHERE token = ?`, token)
	t, err := scanPushToken(row)
	if err != nil {
		return nil, fmt.Errorf("get push token: %w", err)
	}
	return t, nil
}

func (s *PushStore) ListByUser(userID int64) ([]model.PushToken, error) {
	rows, err := s.db.Query(
		`SELECT `+pushTokenCols+` FROM push_tokens WHERE user_id = ? ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	defer rows.Close()
	return collectPushTokens(rows)
}

// ListByUsers returns the tokens of every user in the set, for batch push
// delivery to a resolved recipient list.
func (s *PushStore) ListByUsers(userIDs []int64) ([]model.PushToken, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}

	rows, err := s.db.Query(
		`SELECT `+pushTokenCols+` FROM push_tokens WHERE user_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list push tokens by users: %w", err)
	}
	defer rows.Close()
	return collectPushTokens(rows)
}

// DeleteByToken removes a token, typically after the provider reports the
// device as unregistered.
func (s *PushStore) DeleteByToken(token string) error {
	_, err := s.db.Exec(`DELETE FROM push_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete push token: %w", err)
	}
	return nil
}

func collectPushTokens(rows *sql.Rows) ([]model.PushToken, error) {
	var tokens []model.PushToken
	for rows.Next() {
		t, err := scanPushToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}
