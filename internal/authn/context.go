package authn

import (
	"context"

	"github.com/rjlane/courses/internal/store"
)

type userContextKey struct{}

// WithUser attaches the authenticated principal to ctx for downstream
// ownership checks (fiches/threads are 403 for a different owner, admin
// exempt — spec.md §6).
func WithUser(ctx context.Context, user *store.User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves the principal attached by WithUser.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*store.User)
	return user, ok
}
