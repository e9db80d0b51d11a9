package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/platform/session"
	"github.com/hanko-field/storefront/internal/services"
)

// SessionHandlers run the guest/user transitions when a shopper signs in or out.
type SessionHandlers struct {
	authn    *auth.Authenticator
	carts    services.CartManager
	accounts services.AccountService
	sessions *session.Manager
}

// NewSessionHandlers constructs the /session handlers. sessions may be nil, in which case the
// guest session is never rotated.
func NewSessionHandlers(authn *auth.Authenticator, carts services.CartManager, accounts services.AccountService, sessions *session.Manager) *SessionHandlers {
	return &SessionHandlers{authn: authn, carts: carts, accounts: accounts, sessions: sessions}
}

// Routes wires the /session endpoints.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
}

type loginResponse struct {
	UserID     string            `json:"userId"`
	Transition transitionPayload `json:"transition"`
}

type logoutResponse struct {
	Transition    transitionPayload `json:"transition"`
	TokensRevoked bool              `json:"tokensRevoked"`
}

// login merges the guest session into the account. Sync failures are reported in the body and keep
// the guest session cookie, so the unmerged state can be retried on the next sign-in.
func (h *SessionHandlers) login(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	p := principalFromRequest(r)
	report := h.carts.SignIn(r.Context(), identity.UID, p.GuestSessionID)
	if report.Synced() {
		h.rotate(w, r)
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, loginResponse{UserID: identity.UID, Transition: buildTransitionPayload(report)})
}

// logout snapshots the remote cart into the current guest session so it stays visible after sign-out.
func (h *SessionHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	p := principalFromRequest(r)
	report, err := h.accounts.SignOut(ctx, identity.UID, p.GuestSessionID)
	if errors.Is(err, services.ErrProfileInvalidInput) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}
	if err != nil {
		requestctx.Logger(ctx).Warn("token revocation failed", zap.Error(err))
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, logoutResponse{Transition: buildTransitionPayload(report), TokensRevoked: err == nil})
}

// rotate swaps the merged guest session for a fresh one so the old id cannot be replayed.
func (h *SessionHandlers) rotate(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		return
	}
	if _, err := h.sessions.Rotate(w); err != nil {
		requestctx.Logger(r.Context()).Warn("guest session rotation failed", zap.Error(err))
	}
}
