package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// stubTokenVerifier records the last token it saw and answers with token or err.
type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	return s.token, s.err
}

type userGetterFunc func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)

func (f userGetterFunc) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	return f(ctx, uid)
}

func serveWithBearer(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRequireFirebaseAuth_AttachesIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "uid-123",
		Claims: map[string]any{"locale": "fr-FR", "email": "shopper@example.com", "email_verified": true},
	}}
	var lookups []string
	users := userGetterFunc(func(_ context.Context, uid string) (*firebaseauth.UserRecord, error) {
		lookups = append(lookups, uid)
		return &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: uid}}, nil
	})

	var got *Identity
	handler := NewAuthenticator(verifier, WithUserGetter(users)).RequireFirebaseAuth()(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = IdentityFromContext(r.Context())
			first, err := got.User(r.Context())
			if err != nil {
				t.Fatalf("User: %v", err)
			}
			if again, _ := got.User(r.Context()); again != first {
				t.Fatal("expected the user record to be cached")
			}
			w.WriteHeader(http.StatusNoContent)
		}))

	rr := serveWithBearer(handler, "token-value")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %q", verifier.received)
	}
	if got == nil || got.UID != "uid-123" || got.Locale != "fr-FR" || got.Email != "shopper@example.com" || !got.EmailVerified {
		t.Fatalf("unexpected identity %+v", got)
	}
	if len(lookups) != 1 || lookups[0] != "uid-123" {
		t.Fatalf("expected one user lookup for uid-123, got %v", lookups)
	}
}

func TestRequireFirebaseAuth_ClassifiesVerificationFailures(t *testing.T) {
	cases := map[string]error{
		"token_expired": ErrTokenExpired,
		"invalid_token": ErrTokenInvalid,
	}
	for code, verifyErr := range cases {
		authn := NewAuthenticator(&stubTokenVerifier{err: verifyErr})
		handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatalf("handler should not execute for %s", code)
		}))

		rr := serveWithBearer(handler, "rejected-token")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", code, rr.Code)
		}
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Fatalf("%s: expected WWW-Authenticate challenge", code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("expected JSON body: %v", err)
		}
		if body["error"] != code {
			t.Fatalf("expected %s, got %v", code, body["error"])
		}
	}
}

func TestIdentityUserRetriesAfterFailure(t *testing.T) {
	calls := 0
	identity := &Identity{UID: "uid-9", load: func(context.Context) (*firebaseauth.UserRecord, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("unavailable")
		}
		return &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: "uid-9"}}, nil
	}}

	if _, err := identity.User(context.Background()); err == nil {
		t.Fatal("expected first load to fail")
	}
	if record, err := identity.User(context.Background()); err != nil || record.UID != "uid-9" {
		t.Fatalf("expected retry to succeed, got %v %v", record, err)
	}
	if _, _ = identity.User(context.Background()); calls != 2 {
		t.Fatalf("expected cached record after success, got %d loads", calls)
	}
	if _, err := (&Identity{UID: "x"}).User(context.Background()); !errors.Is(err, ErrUserLoaderUnavailable) {
		t.Fatalf("expected ErrUserLoaderUnavailable, got %v", err)
	}
}

func TestIdentityFromTokenReadsFirebaseClaims(t *testing.T) {
	token := &firebaseauth.Token{
		UID:     "uid-5",
		Expires: 1735689600,
		Claims:  map[string]any{"email": " a@example.com ", "locale": "pt-BR"},
	}
	token.Firebase.SignInProvider = "google.com"

	identity := identityFromToken(token)
	if identity.Email != "a@example.com" || identity.Locale != "pt-BR" || identity.Provider != "google.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if identity.ExpiresAt.Year() != 2025 {
		t.Fatalf("unexpected expiry %v", identity.ExpiresAt)
	}
}

func TestRequireFirebaseAuth_MissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{})
	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without a token")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%q: expected 401, got %d", header, rr.Code)
		}
	}
}

func TestOptionalFirebaseAuth_GuestPassesThrough(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	var sawIdentity bool
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawIdentity = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent || sawIdentity {
		t.Fatalf("expected guest pass-through, got %d identity=%v", rr.Code, sawIdentity)
	}
	if verifier.received != "" {
		t.Fatalf("verifier should not run for guests")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || !sawIdentity {
		t.Fatalf("expected identity for bearer request, got %d identity=%v", rr.Code, sawIdentity)
	}

	verifier.err = errors.New("bad signature")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid token to be rejected, got %d", rr.Code)
	}
}

func TestRequireFirebaseAuth_ReusesIdentityFromOuterMiddleware(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]any{}}}

	calls := 0
	counting := &countingVerifier{inner: verifier, calls: &calls}
	outer := NewAuthenticator(counting).OptionalFirebaseAuth()
	inner := NewAuthenticator(counting).RequireFirebaseAuth()

	handler := outer(inner(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	req := httptest.NewRequest(http.MethodPost, "/session/login", nil)
	req.Header.Set("Authorization", "Bearer t")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if calls != 1 {
		t.Fatalf("expected token to be verified once, got %d", calls)
	}
}

type countingVerifier struct {
	inner TokenVerifier
	calls *int
}

func (c *countingVerifier) VerifyIDToken(ctx context.Context, token string) (*firebaseauth.Token, error) {
	*c.calls++
	return c.inner.VerifyIDToken(ctx, token)
}
