package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

const maxProfileBodySize = 8 * 1024

var errNoEditableFields = errors.New("no editable fields provided")

// MeHandlers exposes the signed-in caller's profile.
type MeHandlers struct {
	authn    *auth.Authenticator
	accounts services.AccountService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before invoking the account service.
func NewMeHandlers(authn *auth.Authenticator, accounts services.AccountService) *MeHandlers {
	return &MeHandlers{authn: authn, accounts: accounts}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getProfile)
	r.Patch("/", h.updateProfile)
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	profile, err := h.accounts.Profile(ctx, identity.UID)
	if err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	record, _ := identity.User(ctx)
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(profile, identity, record)})
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	body, err := readLimitedBody(r, maxProfileBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	patch, err := parseProfilePatch(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	updated, err := h.accounts.UpdateProfile(ctx, identity.UID, patch)
	if err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	record, _ := identity.User(ctx)
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(updated, identity, record)})
}

type meResponse struct {
	Profile profilePayload `json:"profile"`
}

type profilePayload struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	EmailVerified bool    `json:"emailVerified"`
	FirstName     string  `json:"firstName"`
	LastName      string  `json:"lastName"`
	Gender        *string `json:"gender,omitempty"`
	Address       *string `json:"address,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	IsSubscribed  bool    `json:"isSubscribed"`
	CreatedAt     string  `json:"createdAt,omitempty"`
	UpdatedAt     string  `json:"updatedAt,omitempty"`
	LastSignInAt  string  `json:"lastSignInAt,omitempty"`
}

func buildProfilePayload(profile services.Profile, identity *auth.Identity, record *firebaseauth.UserRecord) profilePayload {
	payload := profilePayload{
		ID:           profile.ID,
		Email:        profile.Email,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		Gender:       profile.Gender,
		Address:      profile.Address,
		Phone:        profile.Phone,
		IsSubscribed: profile.IsSubscribed,
		CreatedAt:    formatTime(profile.CreatedAt),
		UpdatedAt:    formatTime(profile.UpdatedAt),
	}
	if identity != nil {
		payload.EmailVerified = identity.EmailVerified
		if payload.Email == "" {
			payload.Email = identity.Email
		}
	}
	if record != nil && record.UserMetadata != nil && record.UserMetadata.LastLogInTimestamp > 0 {
		payload.LastSignInAt = formatTime(time.UnixMilli(record.UserMetadata.LastLogInTimestamp))
	}
	return payload
}

// parseProfilePatch distinguishes absent fields from explicit nulls: null clears optional fields.
func parseProfilePatch(data []byte) (services.ProfilePatch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return services.ProfilePatch{}, errors.New("request body must be a JSON object")
	}
	var patch services.ProfilePatch
	for key, value := range raw {
		switch key {
		case "firstName", "first_name":
			s, err := decodeRequiredString(key, value)
			if err != nil {
				return services.ProfilePatch{}, err
			}
			patch.FirstName = &s
		case "lastName", "last_name":
			s, err := decodeRequiredString(key, value)
			if err != nil {
				return services.ProfilePatch{}, err
			}
			patch.LastName = &s
		case "gender":
			s, err := decodeOptionalString(key, value)
			if err != nil {
				return services.ProfilePatch{}, err
			}
			patch.Gender = &s
		case "address":
			s, err := decodeOptionalString(key, value)
			if err != nil {
				return services.ProfilePatch{}, err
			}
			patch.Address = &s
		case "phone":
			s, err := decodeOptionalString(key, value)
			if err != nil {
				return services.ProfilePatch{}, err
			}
			patch.Phone = &s
		case "isSubscribed", "is_subscribed":
			var b bool
			if err := json.Unmarshal(value, &b); err != nil {
				return services.ProfilePatch{}, fmt.Errorf("%s must be a boolean", key)
			}
			patch.IsSubscribed = &b
		default:
			return services.ProfilePatch{}, fmt.Errorf("field %q is not editable", key)
		}
	}
	if patch.Empty() {
		return services.ProfilePatch{}, errNoEditableFields
	}
	return patch, nil
}

func decodeRequiredString(key string, value json.RawMessage) (string, error) {
	var s string
	if isJSONNull(value) || json.Unmarshal(value, &s) != nil {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func decodeOptionalString(key string, value json.RawMessage) (string, error) {
	if isJSONNull(value) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", fmt.Errorf("%s must be a string or null", key)
	}
	return s, nil
}

func isJSONNull(value json.RawMessage) bool {
	return strings.TrimSpace(string(value)) == "null"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeProfileError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrProfileInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_profile_field", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProfileConflict):
		httpx.WriteError(ctx, w, httpx.NewError("email_already_registered", "an account already exists for this email", http.StatusConflict))
	case errors.Is(err, services.ErrProfileNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("profile_not_found", "profile not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProfileUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("profile_error", "failed to process profile request", http.StatusInternalServerError))
	}
}
