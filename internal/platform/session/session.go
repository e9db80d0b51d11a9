// Package session issues and verifies the signed guest session cookie. The session id scopes the
// guest cart and favorites held by localstore.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	defaultCookieName = "sf_guest"
	defaultTTL        = 30 * 24 * time.Hour
	minKeyLength      = 32
	issuer            = "storefront"
)

var errInvalidSession = errors.New("session: invalid guest session token")

type claims struct {
	jwt.RegisteredClaims
}

// Manager signs guest session ids into an HS256 cookie.
type Manager struct {
	key        []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
	newID      func() string
	onReissue  func(ctx context.Context, sessionID string)
}

// Option customises a Manager.
type Option func(*Manager)

// WithCookieName overrides the cookie name.
func WithCookieName(name string) Option {
	return func(m *Manager) {
		if name = strings.TrimSpace(name); name != "" {
			m.cookieName = name
		}
	}
}

// WithTTL sets how long an idle guest session lives.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSecure toggles the Secure cookie attribute.
func WithSecure(secure bool) Option {
	return func(m *Manager) {
		m.secure = secure
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithReissueHook runs fn when an existing session's cookie is reissued.
func WithReissueHook(fn func(ctx context.Context, sessionID string)) Option {
	return func(m *Manager) {
		m.onReissue = fn
	}
}

// NewManager builds a Manager. signingKey must be at least 32 bytes.
func NewManager(signingKey string, opts ...Option) (*Manager, error) {
	if len(signingKey) < minKeyLength {
		return nil, fmt.Errorf("session: signing key must be at least %d bytes", minKeyLength)
	}
	m := &Manager{
		key:        []byte(signingKey),
		cookieName: defaultCookieName,
		ttl:        defaultTTL,
		secure:     true,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Issue signs a token for sessionID.
func (m *Manager) Issue(sessionID string) (string, time.Time, error) {
	now := m.now().UTC()
	expires := now.Add(m.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   sessionID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}})
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify returns the session id carried by token and when the token was issued.
func (m *Manager) Verify(token string) (string, time.Time, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	var c claims
	parsed, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return m.key, nil
	})
	if err != nil || !parsed.Valid {
		return "", time.Time{}, errInvalidSession
	}
	// Claims are checked here so expiry follows the injected clock.
	if c.ExpiresAt == nil || !m.now().Before(c.ExpiresAt.Time) || c.Issuer != issuer {
		return "", time.Time{}, errInvalidSession
	}
	if _, err := uuid.Parse(c.Subject); err != nil {
		return "", time.Time{}, errInvalidSession
	}
	var issued time.Time
	if c.IssuedAt != nil {
		issued = c.IssuedAt.Time
	}
	return c.Subject, issued, nil
}

// Middleware attaches the guest session id to the request context, starting a new session when
// the cookie is missing, invalid or expired. Cookies older than half their lifetime are reissued so
// active shoppers keep their cart.
func (m *Manager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, issued, err := m.fromRequest(r)
			reissue := err != nil || m.now().Sub(issued) > m.ttl/2
			if err != nil {
				id = m.newID()
			}
			if reissue {
				if setErr := m.setCookie(w, id); setErr != nil {
					http.Error(w, "session unavailable", http.StatusInternalServerError)
					return
				}
				// err is nil only for a still-valid cookie being extended.
				if err == nil && m.onReissue != nil {
					m.onReissue(r.Context(), id)
				}
			}
			next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
		})
	}
}

// Rotate starts a fresh guest session on the response and returns its id.
func (m *Manager) Rotate(w http.ResponseWriter) (string, error) {
	id := m.newID()
	if err := m.setCookie(w, id); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) fromRequest(r *http.Request) (string, time.Time, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return "", time.Time{}, err
	}
	return m.Verify(cookie.Value)
}

func (m *Manager) setCookie(w http.ResponseWriter, id string) error {
	token, expires, err := m.Issue(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

type contextKey string

const idContextKey contextKey = "github.com/hanko-field/storefront/internal/platform/session/id"

// WithID stores the guest session id on ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idContextKey, id)
}

// IDFromContext returns the guest session id attached by Middleware.
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(idContextKey).(string)
	return id
}
