package auth

import (
	"context"
	"time"

	"github.com/dukerupert/alwaysplan/internal/model"
)

type contextKey struct{}

// AuthContext identifies the user a request acts for.
type AuthContext struct {
	UserID   int64
	Email    string
	Timezone string
}

// FromUser builds the context value for an authenticated user.
func FromUser(u *model.User) AuthContext {
	return AuthContext{UserID: u.ID, Email: u.Email, Timezone: u.Timezone}
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

// Location is the authenticated user's timezone, or fallback.
func Location(ctx context.Context, fallback *time.Location) *time.Location {
	ac, ok := FromContext(ctx)
	if !ok {
		return fallback
	}
	return model.LoadLocation(ac.Timezone, fallback)
}
