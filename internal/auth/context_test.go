package auth

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/alwaysplan/internal/model"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := FromUser(&model.User{ID: 1, Email: "a@example.com", Timezone: "America/Denver"})

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got.UserID != 1 {
		t.Errorf("UserID = %d, want 1", got.UserID)
	}
	if got.Email != "a@example.com" {
		t.Errorf("Email = %q", got.Email)
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected false for missing AuthContext")
	}
}

func TestUserID(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{UserID: 7})
	if UserID(ctx) != 7 {
		t.Errorf("UserID = %d, want 7", UserID(ctx))
	}
}

func TestUserIDMissing(t *testing.T) {
	if UserID(context.Background()) != 0 {
		t.Error("expected 0 for missing context")
	}
}

func TestLocation(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{UserID: 1, Timezone: "America/Denver"})
	if got := Location(ctx, time.UTC).String(); got != "America/Denver" {
		t.Errorf("Location = %s, want America/Denver", got)
	}

	bad := WithAuth(context.Background(), AuthContext{UserID: 1, Timezone: "Nowhere/Special"})
	if got := Location(bad, time.UTC); got != time.UTC {
		t.Errorf("unknown zone should fall back, got %s", got)
	}
	if got := Location(context.Background(), time.UTC); got != time.UTC {
		t.Errorf("missing auth should fall back, got %s", got)
	}
}
