package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/dosewatch/internal/model"
)

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var relatedID sql.NullInt64

	err := scanner.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &relatedID, &n.Read, &n.CreatedAt)
	if err != nil {
		return nil, err
	}

	if relatedID.Valid {
		n.RelatedID = &relatedID.Int64
	}
	return &n, nil
}

const notificationCols = `id, user_id, type, title, message, related_id, read, created_at`

func (s *NotificationStore) Create(userID int64, notifType, title, message string, relatedID *int64) (*model.Notification, error) {
	var rID sql.NullInt64
	if relatedID != nil {
		rID = sql.NullInt64{Int64: *relatedID, Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO notifications (user_id, type, title, message, related_id) VALUES (?, ?, ?, ?, ?)`,
		userID, notifType, title, message, rID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *NotificationStore) GetByID(id int64) (*model.Notification, error) {
	row := s.db.QueryRow(`SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (s *NotificationStore) ListByUser(userID int64) ([]model.Notification, error) {
	rows, err := s.db.Query(
		`SELECT `+notificationCols+` FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifs []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifs = append(notifs, *n)
	}
	return notifs, rows.Err()
}

// MarkRead flips the read flag. Scoped to the owning user so one user cannot
// mark another's notifications.
func (s *NotificationStore) MarkRead(id, userID int64) error {
	_, err := s.db.Exec(
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func (s *NotificationStore) UnreadCount(userID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}
