package model

import "time"

// User roles.
const (
	RoleMaster     = "master"
	RoleDependent  = "dependent"
	RoleController = "controller"
)

// Plan tiers.
const (
	PlanFree    = "free"
	PlanPremium = "premium"
)

type User struct {
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	Plan             string    `json:"plan"`
	StripeCustomerID string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
