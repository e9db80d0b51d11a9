// Package auth verifies Firebase ID tokens and manages Firebase accounts.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// ErrUserLoaderUnavailable is returned by Identity.User when no UserGetter was configured.
var ErrUserLoaderUnavailable = errors.New("auth: user loader not configured")

// Identity is the signed-in shopper behind a verified ID token.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Locale        string
	// Provider is the Firebase sign-in provider, such as "password" or "google.com".
	Provider  string
	ExpiresAt time.Time

	load func(ctx context.Context) (*firebaseauth.UserRecord, error)

	mu     sync.Mutex
	record *firebaseauth.UserRecord
}

func identityFromToken(token *firebaseauth.Token) *Identity {
	id := &Identity{
		UID:           token.UID,
		Email:         stringClaim(token.Claims, "email"),
		EmailVerified: boolClaim(token.Claims, "email_verified"),
		Locale:        stringClaim(token.Claims, "locale"),
		Provider:      token.Firebase.SignInProvider,
	}
	if token.Expires > 0 {
		id.ExpiresAt = time.Unix(token.Expires, 0).UTC()
	}
	return id
}

// User loads the Firebase user record once. Failed loads are retried on the next call.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.load == nil {
		return nil, ErrUserLoaderUnavailable
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.record != nil {
		return i.record, nil
	}
	record, err := i.load(ctx)
	if err != nil {
		return nil, err
	}
	i.record = record
	return record, nil
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext reports the signed-in shopper, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil || identity.UID == "" {
		return nil, false
	}
	return identity, true
}

func stringClaim(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return strings.TrimSpace(v)
}

func boolClaim(claims map[string]any, key string) bool {
	v, _ := claims[key].(bool)
	return v
}
