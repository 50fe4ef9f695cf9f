package model

import "time"

// Notification type constants
const (
	NotifTypeDoseDue            = "dose_due"
	NotifTypeDoseMissed         = "dose_missed"
	NotifTypeStockLow           = "stock_low"
	NotifTypeStockEmpty         = "stock_empty"
	NotifTypeConnectionRequest  = "connection_request"
	NotifTypeConnectionAccepted = "connection_accepted"
)

type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	RelatedID *int64    `json:"related_id,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
