package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/platform/session"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func addItemRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func countingHandler(calls *int, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "sf_guest=abc")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func TestMiddleware_KeylessRequestsAlwaysRun(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusOK, `{}`))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, addItemRequest(`{"productId":1}`, ""))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run for every keyless request, got %d", calls)
	}
}

func TestMiddleware_SafeMethodsBypassStore(t *testing.T) {
	store := &stubStore{
		claim: func(Key, string) (Claim, error) {
			t.Fatal("claim must not be called for GET")
			return Claim{}, nil
		},
	}
	calls := 0
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Idempotency-Key", "k")
	Middleware(store)(countingHandler(&calls, http.StatusOK, `{}`)).ServeHTTP(httptest.NewRecorder(), req)
	if calls != 1 {
		t.Fatalf("expected GET to reach the handler, got %d calls", calls)
	}
}

func TestMiddleware_RequiredKeyRejectsMissingHeader(t *testing.T) {
	calls := 0
	rr := httptest.NewRecorder()
	Middleware(NewMemoryStore(), WithRequiredKey())(countingHandler(&calls, http.StatusOK, `{}`)).
		ServeHTTP(rr, addItemRequest(`{"productId":1}`, ""))

	if calls != 0 {
		t.Fatal("handler should not be invoked when header is missing")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr, "idempotency_key_required")
}

func TestMiddleware_RejectsOversizedKey(t *testing.T) {
	calls := 0
	rr := httptest.NewRecorder()
	Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK, `{}`)).
		ServeHTTP(rr, addItemRequest(`{}`, strings.Repeat("k", maxKeyLength+1)))
	if rr.Code != http.StatusBadRequest || calls != 0 {
		t.Fatalf("expected 400 without handler call, got %d (%d calls)", rr.Code, calls)
	}
	assertErrorCode(t, rr, "idempotency_key_invalid")
}

func TestMiddleware_RejectsOversizedBodyBeforeClaim(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock), WithMaxBodyBytes(16))(countingHandler(&calls, http.StatusOK, `{}`))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, addItemRequest(`{"productId":1,"pad":"`+strings.Repeat("x", 64)+`"}`, "key-big"))
	if rr.Code != http.StatusRequestEntityTooLarge || calls != 0 {
		t.Fatalf("expected 413 without handler call, got %d (%d calls)", rr.Code, calls)
	}
	assertErrorCode(t, rr, "payload_too_large")

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, addItemRequest(`{"productId":1}`, "key-big"))
	if rr.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected the key to stay unclaimed, got %d (%d calls)", rr.Code, calls)
	}
}

func TestMiddleware_ReplaysStoredReply(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusCreated, `{"count":2}`))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, addItemRequest(`{"productId":12}`, "abc-123"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, addItemRequest(`{"productId":12}`, "abc-123"))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if first.Header().Get(replayHeader) != "" {
		t.Fatal("first response must not be marked as a replay")
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", second.Code)
	}
	if second.Header().Get(replayHeader) != "true" {
		t.Fatal("expected replay header")
	}
	if got := second.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %q", got)
	}
	if got := second.Header().Get("Set-Cookie"); got != "" {
		t.Fatalf("expected cookies not to be replayed, got %q", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected body %s, got %s", first.Body.String(), second.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerGuestSession(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusOK, `{}`))

	for _, guest := range []string{"guest-a", "guest-b"} {
		req := addItemRequest(`{"productId":1}`, "same-key")
		req = req.WithContext(session.WithID(req.Context(), guest))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", guest, rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both guests to reach the handler, got %d", calls)
	}
}

func TestMiddleware_DifferentBodyConflicts(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(countingHandler(&calls, http.StatusOK, `{}`))

	handler.ServeHTTP(httptest.NewRecorder(), addItemRequest(`{"productId":1}`, "same-key"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, addItemRequest(`{"productId":2}`, "same-key"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr, "idempotency_key_conflict")
}

func TestMiddleware_InFlightKeyIsBusy(t *testing.T) {
	store := NewMemoryStore()
	req := addItemRequest(`{"productId":1}`, "pending-key")
	fingerprint := requestFingerprint(req, []byte(`{"productId":1}`))
	key := Key{Scope: "anonymous", Value: "pending-key"}
	if _, err := store.Claim(context.Background(), key, fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	calls := 0
	rr := httptest.NewRecorder()
	Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusOK, `{}`)).ServeHTTP(rr, req)

	if calls != 0 {
		t.Fatal("handler should not run while the key is in flight")
	}
	if rr.Code != http.StatusConflict || rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 409 with Retry-After, got %d %q", rr.Code, rr.Header().Get("Retry-After"))
	}
	assertErrorCode(t, rr, "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(fixedClock))(countingHandler(&calls, http.StatusServiceUnavailable, `{"error":"unavailable"}`))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, addItemRequest(`{"productId":1}`, "retry-me"))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected failed attempts to be retryable, got %d calls", calls)
	}
	if store.Len() != 0 {
		t.Fatalf("expected abandoned keys to be removed, got %d entries", store.Len())
	}
}

func TestMiddleware_CompleteFailureAbandonsKey(t *testing.T) {
	var abandoned []Key
	var logged []string
	store := &stubStore{
		complete: func(Key, string, Reply) error { return errors.New("write failed") },
		abandon: func(key Key) error {
			abandoned = append(abandoned, key)
			return nil
		},
	}
	logger := func(_ context.Context, event string, _ map[string]any) { logged = append(logged, event) }

	calls := 0
	rr := httptest.NewRecorder()
	Middleware(store, WithClock(fixedClock), WithLogger(logger), WithScope(func(*http.Request) string { return "user:u1" }))(
		countingHandler(&calls, http.StatusOK, `{}`),
	).ServeHTTP(rr, addItemRequest(`{}`, "fail-key"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	assertErrorCode(t, rr, "idempotency_store_error")
	if len(abandoned) != 1 || abandoned[0] != (Key{Scope: "user:u1", Value: "fail-key"}) {
		t.Fatalf("expected the claimed key to be abandoned, got %v", abandoned)
	}
	if len(logged) != 1 || logged[0] != "idempotency.complete_failed" {
		t.Fatalf("expected complete failure to be logged, got %v", logged)
	}
}

type stubStore struct {
	claim    func(Key, string) (Claim, error)
	complete func(Key, string, Reply) error
	abandon  func(Key) error
}

func (s *stubStore) Claim(_ context.Context, key Key, fingerprint string, _ time.Time, _ time.Duration) (Claim, error) {
	if s.claim != nil {
		return s.claim(key, fingerprint)
	}
	return Claim{Verdict: VerdictProceed}, nil
}

func (s *stubStore) Complete(_ context.Context, key Key, fingerprint string, reply Reply, _ time.Time, _ time.Duration) error {
	if s.complete != nil {
		return s.complete(key, fingerprint, reply)
	}
	return nil
}

func (s *stubStore) Abandon(_ context.Context, key Key) error {
	if s.abandon != nil {
		return s.abandon(key)
	}
	return nil
}

func (s *stubStore) Sweep(context.Context, time.Time, int) (int, error) { return 0, nil }

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
