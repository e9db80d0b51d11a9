package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/services"
)

// CatalogHandlers serves the public product catalog.
type CatalogHandlers struct {
	catalog services.CatalogService
	paging  pagination.Limits
}

// NewCatalogHandlers constructs the catalog handlers. pageSize sets the default listing size.
func NewCatalogHandlers(catalog services.CatalogService, pageSize int) *CatalogHandlers {
	return &CatalogHandlers{
		catalog: catalog,
		paging:  pagination.Limits{Default: pageSize},
	}
}

// Routes wires /products and /catalog onto r.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{productRef}", h.getProduct)
	r.Get("/catalog/options", h.options)
}

type productPayload struct {
	ID              int64                 `json:"id"`
	Slug            string                `json:"slug"`
	Name            string                `json:"name"`
	CategoryID      *int64                `json:"categoryId,omitempty"`
	SubcategoryID   *int64                `json:"subcategoryId,omitempty"`
	Price           float64               `json:"price"`
	PriceOld        *float64              `json:"priceOld,omitempty"`
	PriceLabel      string                `json:"priceLabel"`
	PriceOldLabel   string                `json:"priceOldLabel,omitempty"`
	OnSale          bool                  `json:"onSale"`
	Sizes           []string              `json:"sizes"`
	Colors          []productColorPayload `json:"colors"`
	Images          []string              `json:"images"`
	DescriptionHTML string                `json:"descriptionHtml,omitempty"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	Total         int              `json:"total"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

type optionPayload struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type catalogOptionsResponse struct {
	PriceRanges []optionPayload `json:"priceRanges"`
	Sorts       []optionPayload `json:"sorts"`
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, err := pagination.FromRequest(r, h.paging)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}
	query := r.URL.Query()
	filter := services.ProductFilter{
		Search:   query.Get("q"),
		Sort:     query.Get("sort"),
		PageSize: page.Size,
		Offset:   page.Offset,
		Lang:     r.Header.Get("Accept-Language"),
	}
	if raw := strings.TrimSpace(query.Get("category")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category must be an integer", http.StatusBadRequest))
			return
		}
		filter.CategoryID = &id
	}
	for _, value := range query["price"] {
		filter.PriceRanges = append(filter.PriceRanges, strings.Split(value, ",")...)
	}
	if raw := strings.TrimSpace(query.Get("on_sale")); raw != "" {
		onSale, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "on_sale must be a boolean", http.StatusBadRequest))
			return
		}
		filter.OnSale = onSale
	}

	listing, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	resp := productListResponse{
		Items:         make([]productPayload, 0, len(listing.Items)),
		Total:         listing.Total,
		NextPageToken: listing.NextPageToken,
	}
	for _, item := range listing.Items {
		resp.Items = append(resp.Items, buildProductPayload(item))
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	detail, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productRef"), r.Header.Get("Accept-Language"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	payload := buildProductPayload(detail.ProductView)
	payload.DescriptionHTML = detail.DescriptionHTML
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CatalogHandlers) options(w http.ResponseWriter, r *http.Request) {
	opts, err := h.catalog.Options(r.Context(), r.Header.Get("Accept-Language"))
	if err != nil {
		writeCatalogError(r.Context(), w, err)
		return
	}
	resp := catalogOptionsResponse{
		PriceRanges: make([]optionPayload, 0, len(opts.PriceRanges)),
		Sorts:       make([]optionPayload, 0, len(opts.Sorts)),
	}
	for _, o := range opts.PriceRanges {
		resp.PriceRanges = append(resp.PriceRanges, optionPayload(o))
	}
	for _, o := range opts.Sorts {
		resp.Sorts = append(resp.Sorts, optionPayload(o))
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSONResponse(w, http.StatusOK, resp)
}

func buildProductPayload(view services.ProductView) productPayload {
	payload := productPayload{
		ID:            view.ID,
		Slug:          view.Slug,
		Name:          view.Name,
		CategoryID:    view.CategoryID,
		SubcategoryID: view.SubcategoryID,
		Price:         view.PriceCurrent,
		PriceOld:      view.PriceOld,
		PriceLabel:    view.Price,
		PriceOldLabel: view.OldPrice,
		OnSale:        view.OnSale(),
		Sizes:         view.Sizes,
		Colors:        make([]productColorPayload, 0, len(view.Colors)),
		Images:        view.ImageURLs,
	}
	if payload.Sizes == nil {
		payload.Sizes = []string{}
	}
	if payload.Images == nil {
		payload.Images = []string{}
	}
	for _, c := range view.Colors {
		payload.Colors = append(payload.Colors, productColorPayload{ID: c.ID, Name: c.Name, Hex: c.Hex})
	}
	return payload
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load catalog", http.StatusInternalServerError))
	}
}
