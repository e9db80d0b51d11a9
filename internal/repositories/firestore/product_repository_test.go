package firestore

import (
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

func catalogFixture() []domain.Product {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return []domain.Product{
		{ID: 3, Name: "Robe", PriceCurrent: 45, CreatedAt: base.Add(2 * time.Hour)},
		{ID: 1, Name: "Jupe", PriceCurrent: 20, CreatedAt: base},
		{ID: 2, Name: "Manteau", PriceCurrent: 95, CreatedAt: base.Add(time.Hour)},
		{ID: 4, Name: "Pull", PriceCurrent: 45, CreatedAt: base.Add(3 * time.Hour)},
	}
}

func ids(items []domain.Product) []int64 {
	out := make([]int64, 0, len(items))
	for _, p := range items {
		out = append(out, p.ID)
	}
	return out
}

func TestSortProducts(t *testing.T) {
	cases := []struct {
		sort domain.SortOption
		want []int64
	}{
		{domain.SortRecommended, []int64{1, 2, 3, 4}},
		{domain.SortNewest, []int64{4, 3, 2, 1}},
		{domain.SortPriceAsc, []int64{1, 3, 4, 2}},
		{domain.SortPriceDesc, []int64{2, 3, 4, 1}},
	}
	for _, tc := range cases {
		items := catalogFixture()
		sortProducts(items, tc.sort)
		got := ids(items)
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("sort %s: expected %v, got %v", tc.sort, tc.want, got)
			}
		}
	}
}

func TestPaginateProducts(t *testing.T) {
	page := paginateProducts(catalogFixture(), domain.ProductQuery{PageSize: 3})
	if page.Total != 4 || len(page.Items) != 3 || page.NextOffset != 3 {
		t.Fatalf("unexpected first page %+v", page)
	}

	page = paginateProducts(catalogFixture(), domain.ProductQuery{PageSize: 3, Offset: 3})
	if len(page.Items) != 1 || page.Items[0].ID != 4 || page.NextOffset != 0 {
		t.Fatalf("unexpected last page %+v", page)
	}

	page = paginateProducts(catalogFixture(), domain.ProductQuery{Offset: 10})
	if len(page.Items) != 0 || page.Total != 4 {
		t.Fatalf("expected empty page past the end, got %+v", page)
	}
}

func TestCartDocIDEscapesKey(t *testing.T) {
	key := domain.BuildCartKey(12, domain.StringPtr("S/M"), domain.Int64Ptr(3))
	if got := cartDocID(key); got != "12__S%2FM__3" {
		t.Fatalf("expected escaped doc id, got %s", got)
	}
}

func TestCartItemFromDocumentNormalisesQuantity(t *testing.T) {
	item := cartItemFromDocument(cartItemDocument{ProductID: 5, Quantity: 0})
	if item.Quantity != 1 || item.ProductID != 5 {
		t.Fatalf("unexpected item %+v", item)
	}
}
