package model

import "time"

// Connection statuses.
const (
	ConnectionPending  = "pending"
	ConnectionAccepted = "accepted"
)

// Connection is a directed consent edge from a master (caregiver) to a
// dependent or controller. Only accepted edges participate in dependent
// listing and missed-dose fan-out.
type Connection struct {
	ID        int64     `json:"id"`
	MasterID  int64     `json:"master_id"`
	TargetID  int64     `json:"target_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
