package auth

import (
	"context"
	"testing"
)

func TestWithAuthRoundTrip(t *testing.T) {
	ac := AuthContext{UserID: 7, Role: "master", Plan: "premium", SessionID: 3}
	ctx := WithAuth(context.Background(), ac)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected auth context to be present")
	}
	if got != ac {
		t.Errorf("got %+v, want %+v", got, ac)
	}
}

func TestAccessorsOnEmptyContext(t *testing.T) {
	ctx := context.Background()

	if id := UserID(ctx); id != 0 {
		t.Errorf("UserID = %d, want 0", id)
	}
	if r := Role(ctx); r != "" {
		t.Errorf("Role = %q, want empty", r)
	}
	if p := Plan(ctx); p != "" {
		t.Errorf("Plan = %q, want empty", p)
	}
	if IsMaster(ctx) {
		t.Error("IsMaster should be false on empty context")
	}
}

func TestIsMaster(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{UserID: 1, Role: "master"})
	if !IsMaster(ctx) {
		t.Error("expected IsMaster true for master role")
	}

	ctx = WithAuth(context.Background(), AuthContext{UserID: 2, Role: "dependent"})
	if IsMaster(ctx) {
		t.Error("expected IsMaster false for dependent role")
	}
}
