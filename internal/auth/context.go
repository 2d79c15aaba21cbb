package auth

import "context"

type ctxKey int

const userKey ctxKey = iota

// User is the authenticated caller.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// WithUser stores the caller in ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the caller stored by the middleware.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	return u, ok && u.ID != ""
}
