package model

import "time"

type Medication struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Name           string    `json:"name"`
	Dosage         string    `json:"dosage"`
	Stock          int       `json:"stock"`
	AlertThreshold int       `json:"alert_threshold"`
	IntervalHours  int       `json:"interval_hours"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Interval returns the dosing interval as a duration.
func (m *Medication) Interval() time.Duration {
	return time.Duration(m.IntervalHours) * time.Hour
}
