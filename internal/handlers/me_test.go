package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/services"
)

func newMeRouter(h *MeHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/me", h.Routes)
	return r
}

func TestMeHandlers_GetProfile(t *testing.T) {
	phone := "+33 6 12 34 56 78"
	accounts := &stubAccountService{
		profileFunc: func(_ context.Context, userID string) (services.Profile, error) {
			return services.Profile{
				ID:        userID,
				FirstName: "Jane",
				LastName:  "Doe",
				Phone:     &phone,
				CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			}, nil
		},
	}
	router := newMeRouter(NewMeHandlers(nil, accounts))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/me", nil), "uid-1", "guest-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp meResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	profile := resp.Profile
	if profile.ID != "uid-1" || profile.Email != "uid-1@example.com" || !profile.EmailVerified {
		t.Fatalf("expected identity fields to fill the profile, got %+v", profile)
	}
	if profile.Phone == nil || *profile.Phone != phone || profile.CreatedAt != "2025-01-02T03:04:05Z" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestMeHandlers_RequiresUser(t *testing.T) {
	router := newMeRouter(NewMeHandlers(nil, &stubAccountService{}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asGuest(httptest.NewRequest(http.MethodGet, "/me", nil), "guest-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMeHandlers_ProfileNotFound(t *testing.T) {
	accounts := &stubAccountService{
		profileFunc: func(context.Context, string) (services.Profile, error) {
			return services.Profile{}, services.ErrProfileNotFound
		},
	}
	router := newMeRouter(NewMeHandlers(nil, accounts))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/me", nil), "uid-1", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMeHandlers_UpdateProfile(t *testing.T) {
	var got services.ProfilePatch
	accounts := &stubAccountService{
		updateFunc: func(_ context.Context, userID string, patch services.ProfilePatch) (services.Profile, error) {
			got = patch
			return patch.Apply(services.Profile{ID: userID, FirstName: "Old"}), nil
		},
	}
	router := newMeRouter(NewMeHandlers(nil, accounts))

	body := `{"first_name":"Marie","phone":null,"isSubscribed":true}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPatch, "/me", strings.NewReader(body)), "uid-1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.FirstName == nil || *got.FirstName != "Marie" {
		t.Fatalf("expected first name patch, got %+v", got)
	}
	if got.Phone == nil || *got.Phone != "" {
		t.Fatalf("expected null to clear phone, got %+v", got.Phone)
	}
	if got.IsSubscribed == nil || !*got.IsSubscribed || got.LastName != nil {
		t.Fatalf("unexpected patch %+v", got)
	}
}

func TestMeHandlers_UpdateProfileRejectsBadPatches(t *testing.T) {
	called := false
	accounts := &stubAccountService{
		updateFunc: func(context.Context, string, services.ProfilePatch) (services.Profile, error) {
			called = true
			return services.Profile{}, nil
		},
	}
	router := newMeRouter(NewMeHandlers(nil, accounts))

	for name, body := range map[string]string{
		"empty patch":    `{}`,
		"unknown field":  `{"email":"new@example.com"}`,
		"null last name": `{"lastName":null}`,
		"wrong type":     `{"isSubscribed":"yes"}`,
		"not an object":  `[1,2]`,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPatch, "/me", strings.NewReader(body)), "uid-1", ""))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
	if called {
		t.Fatalf("expected invalid patches to be rejected before the service")
	}
}
