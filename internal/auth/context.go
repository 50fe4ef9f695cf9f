package auth

import (
	"context"

	"github.com/dukerupert/dosewatch/internal/model"
)

type contextKey struct{}

type AuthContext struct {
	UserID    int64
	Role      string
	Plan      string
	SessionID int64
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

func Role(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.Role
}

func Plan(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.Plan
}

func IsMaster(ctx context.Context) bool {
	return Role(ctx) == model.RoleMaster
}
