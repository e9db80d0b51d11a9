package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

// MaxCartBodySize caps cart mutation payloads.
const MaxCartBodySize = 4 * 1024

// CartHandlers exposes the cart of the caller, guest or signed-in.
type CartHandlers struct {
	carts     services.CartManager
	addGuards []func(http.Handler) http.Handler
}

// CartOption customises cart handlers.
type CartOption func(*CartHandlers)

// WithAddItemMiddleware wraps POST /items, typically with idempotency protection since adding
// increments the quantity.
func WithAddItemMiddleware(mw ...func(http.Handler) http.Handler) CartOption {
	return func(h *CartHandlers) {
		h.addGuards = append(h.addGuards, mw...)
	}
}

// NewCartHandlers constructs the cart handlers.
func NewCartHandlers(carts services.CartManager, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{carts: carts}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.With(h.addGuards...).Post("/items", h.addItem)
	r.Patch("/items/{key}", h.updateItem)
	r.Delete("/items/{key}", h.removeItem)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	summary, err := h.carts.Cart(r.Context(), principalFromRequest(r))
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildCartPayload(summary))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body map[string]any
	if !decodeJSONBody(w, r, MaxCartBodySize, &body) {
		return
	}
	item, ok := domain.SanitizeCartEntry(body)
	if !ok || item.ProductID <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId must be a positive integer", http.StatusBadRequest))
		return
	}

	summary, err := h.carts.AddItem(ctx, principalFromRequest(r), item)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildCartPayload(summary))
}

type updateCartItemRequest struct {
	Quantity any `json:"quantity"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := cartKeyParam(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart item key is invalid", http.StatusBadRequest))
		return
	}
	var req updateCartItemRequest
	if !decodeJSONBody(w, r, MaxCartBodySize, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	summary, err := h.carts.UpdateQuantity(ctx, principalFromRequest(r), key, domain.NormalizeQuantity(req.Quantity))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildCartPayload(summary))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := cartKeyParam(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart item key is invalid", http.StatusBadRequest))
		return
	}
	summary, err := h.carts.RemoveItem(ctx, principalFromRequest(r), key)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildCartPayload(summary))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), principalFromRequest(r)); err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cartKeyParam accepts the key either raw or percent-encoded.
func cartKeyParam(r *http.Request) (domain.CartKey, bool) {
	raw := chi.URLParam(r, "key")
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	raw = strings.TrimSpace(raw)
	if _, ok := domain.ParseCartKey(domain.CartKey(raw)); !ok {
		return "", false
	}
	return domain.CartKey(raw), true
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartSessionRequired):
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "a guest session cookie is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartUnknownProduct):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product or variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

type cartPayload struct {
	Items    []cartItemPayload `json:"items"`
	Count    int               `json:"count"`
	Subtotal float64           `json:"subtotal"`
}

type cartItemPayload struct {
	Key       string               `json:"key"`
	ProductID int64                `json:"productId"`
	Size      *string              `json:"size"`
	ColorID   *int64               `json:"colorId"`
	Quantity  int                  `json:"quantity"`
	Product   *cartProductPayload  `json:"product,omitempty"`
	Color     *productColorPayload `json:"color,omitempty"`
}

type cartProductPayload struct {
	ID       int64    `json:"id"`
	Slug     string   `json:"slug,omitempty"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	PriceOld *float64 `json:"priceOld,omitempty"`
}

type productColorPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Hex  string `json:"hex,omitempty"`
}

func buildCartPayload(summary services.CartSummary) cartPayload {
	payload := cartPayload{
		Items:    make([]cartItemPayload, 0, len(summary.Items)),
		Count:    summary.Count,
		Subtotal: summary.Subtotal,
	}
	for _, line := range summary.Items {
		item := cartItemPayload{
			Key:       string(line.Key),
			ProductID: line.ProductID,
			Size:      line.Size,
			ColorID:   line.ColorID,
			Quantity:  line.Quantity,
		}
		if line.Product != nil {
			item.Product = &cartProductPayload{
				ID:       line.Product.ID,
				Slug:     line.Product.Slug,
				Name:     line.Product.Name,
				Price:    line.Product.PriceCurrent,
				PriceOld: line.Product.PriceOld,
			}
		}
		if line.Color != nil {
			item.Color = &productColorPayload{ID: line.Color.ID, Name: line.Color.Name, Hex: line.Color.Hex}
		}
		payload.Items = append(payload.Items, item)
	}
	return payload
}
