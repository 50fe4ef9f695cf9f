package model

import "time"

// Dose schedule statuses.
const (
	DoseStatusPending = "pending"
	DoseStatusTaken   = "taken"
	DoseStatusMissed  = "missed"
)

// DoseSchedule is one dose event for a medication: a due dose waiting for
// confirmation (pending), a confirmed or manually logged dose (taken), or a
// due dose that went unconfirmed past the grace window (missed).
type DoseSchedule struct {
	ID           int64      `json:"id"`
	MedicationID int64      `json:"medication_id"`
	UserID       int64      `json:"user_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	Status       string     `json:"status"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
