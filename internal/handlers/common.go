package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/session"
	"github.com/hanko-field/storefront/internal/services"
)

const defaultBodyLimit = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// principalFromRequest resolves the signed-in user, falling back to the guest session.
func principalFromRequest(r *http.Request) services.Principal {
	ctx := r.Context()
	p := services.Principal{GuestSessionID: session.IDFromContext(ctx)}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		p.UserID = strings.TrimSpace(identity.UID)
	}
	return p
}

func requireUser(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads a size-limited JSON object into dst, writing the 400/413 response itself.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_json", "request body must be a JSON object", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

type mergePayload struct {
	Status      string `json:"status"`
	LocalItems  int    `json:"localItems"`
	MergedItems int    `json:"mergedItems"`
	Error       string `json:"error,omitempty"`
}

type snapshotPayload struct {
	Status string `json:"status"`
	Items  int    `json:"items"`
	Error  string `json:"error,omitempty"`
}

type transitionPayload struct {
	Kind       string           `json:"kind"`
	Synced     bool             `json:"synced"`
	Cart       *mergePayload    `json:"cart,omitempty"`
	Favorites  *mergePayload    `json:"favorites,omitempty"`
	Snapshot   *snapshotPayload `json:"snapshot,omitempty"`
	DurationMS int64            `json:"durationMs"`
	Error      string           `json:"error,omitempty"`
}

func buildTransitionPayload(report services.TransitionReport) transitionPayload {
	payload := transitionPayload{
		Kind:       string(report.Kind),
		Synced:     report.Synced(),
		DurationMS: report.Duration.Milliseconds(),
	}
	if report.Err != nil {
		payload.Error = report.Err.Error()
	}
	if report.Cart != nil {
		payload.Cart = buildMergePayload(*report.Cart)
	}
	if report.Favorites != nil {
		payload.Favorites = buildMergePayload(*report.Favorites)
	}
	if report.Snapshot != nil {
		payload.Snapshot = &snapshotPayload{Status: string(report.Snapshot.Status), Items: report.Snapshot.Items}
		if report.Snapshot.Err != nil {
			payload.Snapshot.Error = report.Snapshot.Err.Error()
		}
	}
	return payload
}

func buildMergePayload(result services.MergeResult) *mergePayload {
	out := &mergePayload{
		Status:      string(result.Status),
		LocalItems:  result.LocalItems,
		MergedItems: result.MergedItems,
	}
	if result.Err != nil {
		out.Error = result.Err.Error()
	}
	return out
}
