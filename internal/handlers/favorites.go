package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

// FavoriteHandlers exposes the caller's favorite products.
type FavoriteHandlers struct {
	carts services.CartManager
}

// NewFavoriteHandlers constructs favorite handlers backed by the cart manager.
func NewFavoriteHandlers(carts services.CartManager) *FavoriteHandlers {
	return &FavoriteHandlers{carts: carts}
}

// Routes wires the /favorites endpoints.
func (h *FavoriteHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listFavorites)
	r.Get("/{productID}", h.getFavorite)
	r.Put("/{productID}", h.addFavorite)
	r.Delete("/{productID}", h.removeFavorite)
	r.Post("/{productID}:toggle", h.toggleFavorite)
}

type favoritesResponse struct {
	ProductIDs []int64 `json:"productIds"`
}

type favoriteStatusResponse struct {
	ProductID int64 `json:"productId"`
	Favorite  bool  `json:"favorite"`
}

func (h *FavoriteHandlers) listFavorites(w http.ResponseWriter, r *http.Request) {
	ids, err := h.carts.Favorites(r.Context(), principalFromRequest(r))
	if err != nil {
		writeFavoriteError(r.Context(), w, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, favoritesResponse{ProductIDs: ids})
}

func (h *FavoriteHandlers) getFavorite(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	favorite, err := h.carts.IsFavorite(r.Context(), principalFromRequest(r), productID)
	if err != nil {
		writeFavoriteError(r.Context(), w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, favoriteStatusResponse{ProductID: productID, Favorite: favorite})
}

func (h *FavoriteHandlers) addFavorite(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if err := h.carts.AddFavorite(r.Context(), principalFromRequest(r), productID); err != nil {
		writeFavoriteError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, favoriteStatusResponse{ProductID: productID, Favorite: true})
}

func (h *FavoriteHandlers) removeFavorite(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	if err := h.carts.RemoveFavorite(r.Context(), principalFromRequest(r), productID); err != nil {
		writeFavoriteError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FavoriteHandlers) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	favorite, err := h.carts.ToggleFavorite(r.Context(), principalFromRequest(r), productID)
	if err != nil {
		writeFavoriteError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, favoriteStatusResponse{ProductID: productID, Favorite: favorite})
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "productID"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_product_id", "product id must be a positive integer", http.StatusBadRequest))
		return 0, false
	}
	return id, true
}

func writeFavoriteError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartUnknownProduct):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	default:
		writeCartError(ctx, w, err)
	}
}
