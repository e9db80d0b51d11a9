package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/services"
)

func newCatalogRouter(h *CatalogHandlers) chi.Router {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestCatalogHandlers_ListProductsBuildsFilter(t *testing.T) {
	var got services.ProductFilter
	old := 49.0
	catalog := &stubCatalogService{
		listFunc: func(_ context.Context, filter services.ProductFilter) (services.ProductListing, error) {
			got = filter
			return services.ProductListing{
				Items: []services.ProductView{{
					Product:  domain.Product{ID: 12, Slug: "linen-shirt", Name: "Linen shirt", PriceCurrent: 39.5, PriceOld: &old},
					Price:    "€39.50",
					OldPrice: "€49.00",
				}},
				Total:         3,
				NextPageToken: "next",
			}, nil
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(catalog, 20))

	token, err := pagination.EncodeToken(pagination.Cursor{Offset: 20})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/products?q=linen&sort=price_asc&category=4&price=lt25,25-40&price=gt90&on_sale=true&pageToken="+token, nil)
	req.Header.Set("Accept-Language", "en-GB")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.Search != "linen" || got.Sort != "price_asc" || got.CategoryID == nil || *got.CategoryID != 4 {
		t.Fatalf("unexpected filter %+v", got)
	}
	if len(got.PriceRanges) != 3 || got.PriceRanges[2] != "gt90" || !got.OnSale {
		t.Fatalf("unexpected price filter %+v", got)
	}
	if got.PageSize != 20 || got.Offset != 20 || got.Lang != "en-GB" {
		t.Fatalf("unexpected paging %+v", got)
	}
	var resp productListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || !resp.Items[0].OnSale || resp.Items[0].PriceLabel != "€39.50" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
	if resp.Items[0].Images == nil || resp.Items[0].Sizes == nil {
		t.Fatalf("expected empty arrays rather than null")
	}
	if resp.NextPageToken != "next" || resp.Total != 3 {
		t.Fatalf("unexpected page info %+v", resp)
	}
}

func TestCatalogHandlers_ListProductsRejectsBadParams(t *testing.T) {
	router := newCatalogRouter(NewCatalogHandlers(&stubCatalogService{}, 20))
	for _, query := range []string{"?category=shoes", "?on_sale=maybe", "?pageSize=-1", "?pageToken=not*base64"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products"+query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestCatalogHandlers_ServiceValidationError(t *testing.T) {
	catalog := &stubCatalogService{
		listFunc: func(context.Context, services.ProductFilter) (services.ProductListing, error) {
			return services.ProductListing{}, services.ErrCatalogInvalidInput
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(catalog, 20))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products?sort=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCatalogHandlers_GetProduct(t *testing.T) {
	catalog := &stubCatalogService{
		getFunc: func(_ context.Context, ref, _ string) (services.ProductDetail, error) {
			if ref != "linen-shirt" {
				return services.ProductDetail{}, services.ErrCatalogNotFound
			}
			return services.ProductDetail{
				ProductView:     services.ProductView{Product: domain.Product{ID: 12, Slug: ref, Name: "Linen shirt"}},
				DescriptionHTML: "<p>Soft</p>",
			}, nil
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(catalog, 20))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/linen-shirt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload productPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ID != 12 || payload.DescriptionHTML != "<p>Soft</p>" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCatalogHandlers_Options(t *testing.T) {
	var gotLang string
	catalog := &stubCatalogService{
		optionsFunc: func(_ context.Context, lang string) (services.CatalogOptions, error) {
			gotLang = lang
			return services.CatalogOptions{
				PriceRanges: []services.CatalogOption{{ID: "gt90", Label: "Over €90"}},
				Sorts:       []services.CatalogOption{{ID: "recommended", Label: "Recommended"}},
			}, nil
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(catalog, 20))

	req := httptest.NewRequest(http.MethodGet, "/catalog/options", nil)
	req.Header.Set("Accept-Language", "en")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || gotLang != "en" {
		t.Fatalf("expected 200 with lang en, got %d %q", rec.Code, gotLang)
	}
	var resp catalogOptionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.PriceRanges) != 1 || resp.PriceRanges[0].Label != "Over €90" || len(resp.Sorts) != 1 {
		t.Fatalf("unexpected options %+v", resp)
	}
}

func TestCatalogHandlers_Unavailable(t *testing.T) {
	catalog := &stubCatalogService{
		optionsFunc: func(context.Context, string) (services.CatalogOptions, error) {
			return services.CatalogOptions{}, services.ErrCatalogUnavailable
		},
	}
	router := newCatalogRouter(NewCatalogHandlers(catalog, 20))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/options", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
