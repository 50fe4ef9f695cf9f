package model

import "time"

// PushToken is a device token registered for push delivery. A user may have
// several (multi-device); tokens are removed when the provider reports the
// device as unregistered.
type PushToken struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}
