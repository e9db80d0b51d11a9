package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/session"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "X-Idempotent-Replay"
	maxKeyLength  = 255

	// DefaultMaxBodyBytes bounds the body buffered for fingerprinting.
	DefaultMaxBodyBytes int64 = 64 * 1024
)

// Logger receives failures that cannot be reported to the client.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ScopeFunc names the shopper a request belongs to.
type ScopeFunc func(r *http.Request) string

type guard struct {
	store    Store
	header   string
	ttl      time.Duration
	now      func() time.Time
	scope    ScopeFunc
	log      Logger
	required bool
	maxBody  int64
}

// Option customises the middleware.
type Option func(*guard)

// WithHeader sets the request header carrying the key.
func WithHeader(name string) Option {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long keys are remembered.
func WithTTL(ttl time.Duration) Option {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithLogger(logger Logger) Option {
	return func(g *guard) {
		if logger != nil {
			g.log = logger
		}
	}
}

// WithMaxBodyBytes caps the request body read before the handler runs. Larger bodies get 413.
func WithMaxBodyBytes(n int64) Option {
	return func(g *guard) {
		if n > 0 {
			g.maxBody = n
		}
	}
}

// WithRequiredKey rejects mutations sent without a key instead of running them unguarded.
func WithRequiredKey() Option {
	return func(g *guard) { g.required = true }
}

func WithClock(now func() time.Time) Option {
	return func(g *guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithScope replaces the default user/guest scoping.
func WithScope(scope ScopeFunc) Option {
	return func(g *guard) {
		if scope != nil {
			g.scope = scope
		}
	}
}

// Middleware guards mutating requests. A retry carrying the same key and body gets the first reply
// back with X-Idempotent-Replay set. A different body under the same key is rejected with 409.
// Replies with a 5xx status are not stored, so the client may retry them.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:   store,
		header:  defaultHeader,
		ttl:     DefaultTTL,
		now:     time.Now,
		scope:   RequesterScope,
		log:     func(context.Context, string, map[string]any) {},
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g.wrap
}

// RequesterScope scopes keys to the signed-in user, else to the guest session.
func RequesterScope(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
		return "user:" + identity.UID
	}
	if id := session.IDFromContext(r.Context()); id != "" {
		return "guest:" + id
	}
	return "anonymous"
}

func (g *guard) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		value := strings.TrimSpace(r.Header.Get(g.header))
		if value == "" {
			if g.required {
				fail(w, r, http.StatusBadRequest, "idempotency_key_required", "missing "+g.header+" header")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if len(value) > maxKeyLength {
			fail(w, r, http.StatusBadRequest, "idempotency_key_invalid", g.header+" is too long")
			return
		}

		body, err := bufferBody(w, r, g.maxBody)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				fail(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds allowed size")
				return
			}
			fail(w, r, http.StatusBadRequest, "invalid_body", "unable to read request body")
			return
		}

		ctx := r.Context()
		key := Key{Scope: g.scope(r), Value: value}
		fingerprint := requestFingerprint(r, body)

		claim, err := g.store.Claim(ctx, key, fingerprint, g.now().UTC(), g.ttl)
		switch {
		case errors.Is(err, ErrKeyReused):
			fail(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
			return
		case err != nil:
			g.log(ctx, "idempotency.claim_failed", map[string]any{"key": key.String(), "error": err.Error()})
			fail(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
			return
		}

		switch claim.Verdict {
		case VerdictReplay:
			replay(w, claim.Entry.Reply)
			return
		case VerdictBusy:
			w.Header().Set("Retry-After", "1")
			fail(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
			return
		}

		capture := newCapture()
		next.ServeHTTP(capture, r)
		reply := capture.reply()

		if reply.Status >= http.StatusInternalServerError {
			g.abandon(ctx, key)
			g.flush(ctx, key, capture, w)
			return
		}
		if err := g.store.Complete(ctx, key, fingerprint, reply, g.now().UTC(), g.ttl); err != nil {
			g.log(ctx, "idempotency.complete_failed", map[string]any{"key": key.String(), "error": err.Error()})
			g.abandon(ctx, key)
			fail(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
			return
		}
		g.flush(ctx, key, capture, w)
	})
}

func (g *guard) abandon(ctx context.Context, key Key) {
	if err := g.store.Abandon(ctx, key); err != nil {
		g.log(ctx, "idempotency.abandon_failed", map[string]any{"key": key.String(), "error": err.Error()})
	}
}

func (g *guard) flush(ctx context.Context, key Key, capture *captureWriter, w http.ResponseWriter) {
	if err := capture.writeTo(w); err != nil {
		g.log(ctx, "idempotency.flush_failed", map[string]any{"key": key.String(), "error": err.Error()})
	}
}

func bufferBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint covers the route and payload. The requester is already part of the Key.
func requestFingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	for _, part := range []string{strings.ToUpper(r.Method), r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type")} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, reply Reply) {
	for name, values := range reply.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeader, "true")
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(reply.Body) > 0 {
		_, _ = w.Write(reply.Body)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
