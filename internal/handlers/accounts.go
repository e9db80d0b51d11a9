package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/platform/session"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	maxSignUpBodySize     = 4 * 1024
	defaultSignUpLimit    = 5
	defaultSignUpInterval = time.Minute
)

// AccountHandlers exposes sign-up.
type AccountHandlers struct {
	accounts services.AccountService
	sessions *session.Manager
	limiter  rateLimiter
}

// AccountOption customises account handlers.
type AccountOption func(*AccountHandlers)

// WithSignUpRateLimit caps sign-up attempts per client IP. A non-positive limit disables the cap.
func WithSignUpRateLimit(limit int, window time.Duration, clock func() time.Time) AccountOption {
	return func(h *AccountHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, clock)
	}
}

// NewAccountHandlers constructs the /accounts handlers.
func NewAccountHandlers(accounts services.AccountService, sessions *session.Manager, opts ...AccountOption) *AccountHandlers {
	h := &AccountHandlers{
		accounts: accounts,
		sessions: sessions,
		limiter:  newFixedWindowLimiter(defaultSignUpLimit, defaultSignUpInterval, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /accounts endpoints.
func (h *AccountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimitByClientIP(h.limiter)).Post("/", h.signUp)
}

type signUpRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	IsSubscribed bool   `json:"isSubscribed"`
}

type signUpResponse struct {
	Profile    profilePayload    `json:"profile"`
	Transition transitionPayload `json:"transition"`
}

func (h *AccountHandlers) signUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req signUpRequest
	if !decodeJSONBody(w, r, maxSignUpBodySize, &req) {
		return
	}
	result, err := h.accounts.SignUp(ctx, services.SignUpCommand{
		Email:          req.Email,
		Password:       req.Password,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		IsSubscribed:   req.IsSubscribed,
		GuestSessionID: session.IDFromContext(ctx),
	})
	if err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	if h.sessions != nil && result.Transition.Synced() {
		if _, err := h.sessions.Rotate(w); err != nil {
			requestctx.Logger(ctx).Warn("guest session rotation failed", zap.Error(err))
		}
	}
	writeJSONResponse(w, http.StatusCreated, signUpResponse{
		Profile:    buildProfilePayload(result.Profile, nil, nil),
		Transition: buildTransitionPayload(result.Transition),
	})
}
