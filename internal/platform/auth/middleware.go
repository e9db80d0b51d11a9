package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

const defaultVerifyTimeout = 5 * time.Second

var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// Authenticator turns bearer ID tokens into an Identity on the request context.
type Authenticator struct {
	verifier TokenVerifier
	users    UserGetter
	timeout  time.Duration
}

type Option func(*Authenticator)

// WithUserGetter lets handlers load the full Firebase user record through Identity.User.
func WithUserGetter(getter UserGetter) Option {
	return func(a *Authenticator) { a.users = getter }
}

// WithVerificationTimeout bounds each token verification and user lookup.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token.
func (a *Authenticator) RequireFirebaseAuth() func(http.Handler) http.Handler {
	return a.middleware(true)
}

// OptionalFirebaseAuth lets requests without an Authorization header through as guests. A header
// that is present but invalid is still rejected, so a signed-in shopper never silently lands on the
// guest cart.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return a.middleware(false)
}

func (a *Authenticator) middleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := IdentityFromContext(ctx); ok {
				next.ServeHTTP(w, r)
				return
			}
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" && !required {
				next.ServeHTTP(w, r)
				return
			}
			identity, failure := a.authenticate(ctx, header)
			if failure != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="storefront"`)
				httpx.WriteError(ctx, w, *failure)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, header string) (*Identity, *httpx.Error) {
	token, ok := bearerToken(header)
	if !ok {
		e := httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized)
		return nil, &e
	}
	if a == nil || a.verifier == nil {
		e := httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized)
		return nil, &e
	}

	verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
	decoded, err := a.verifier.VerifyIDToken(verifyCtx, token)
	cancel()
	if err != nil {
		e := verificationFailure(err)
		return nil, &e
	}

	identity := identityFromToken(decoded)
	if a.users != nil {
		uid := identity.UID
		identity.load = func(ctx context.Context) (*firebaseauth.UserRecord, error) {
			ctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			return a.users.GetUser(ctx, uid)
		}
	}
	return identity, nil
}

func verificationFailure(err error) httpx.Error {
	code, message := "invalid_token", "firebase id token verification failed"
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		code, message = "token_expired", "firebase id token expired"
	case firebaseauth.IsIDTokenRevoked(err):
		code, message = "token_revoked", "firebase id token revoked"
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		message = "firebase id token invalid"
	}
	return httpx.NewError(code, message, http.StatusUnauthorized)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
