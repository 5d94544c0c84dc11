package session

import "context"

// Store is the persistence surface the authenticator needs — satisfied by
// *db.Persistence. Kept as a narrow interface so the dispatcher can be
// unit-tested against a fake.
type Store interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	Invalidate(ctx context.Context, token string) error
	Resolve(ctx context.Context, token string) int64
}

// Authenticator is a thin pass-through layer: it carries no state of its
// own and no claims live in the token itself, so every method just calls
// through to the store. It exists as its own type so the dispatcher
// depends on "authenticate a session" rather than on the whole of
// internal/db.
type Authenticator struct {
	store Store
}

// New wraps a persistence store as a session authenticator.
func New(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate validates credentials and returns a freshly issued session
// token.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (string, error) {
	return a.store.Authenticate(ctx, username, password)
}

// Invalidate revokes a token.
func (a *Authenticator) Invalidate(ctx context.Context, token string) error {
	return a.store.Invalidate(ctx, token)
}

// Resolve maps a token to an account id, or -1 if the token is absent or
// ambiguous.
func (a *Authenticator) Resolve(ctx context.Context, token string) int64 {
	return a.store.Resolve(ctx, token)
}
