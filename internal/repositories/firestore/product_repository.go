package firestore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads the catalog from the products collection. Firestore cannot express the
// OR-ed category and price filters, so listings are filtered and sorted in process.
type ProductRepository struct {
	products *pfirestore.Collection[domain.Product]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products, err := pfirestore.NewCollection(provider, productCollection, decodeProduct)
	if err != nil {
		return nil, err
	}
	return &ProductRepository{products: products}, nil
}

func (r *ProductRepository) List(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error) {
	all, err := r.products.Query(ctx, nil)
	if err != nil {
		return domain.ProductPage{}, err
	}
	search := strings.ToLower(strings.TrimSpace(query.Search))
	matched := all[:0]
	for _, product := range all {
		if !query.Matches(product) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(product.Name), search) {
			continue
		}
		matched = append(matched, product)
	}
	return paginateProducts(matched, query), nil
}

func (r *ProductRepository) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	docIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		docIDs = append(docIDs, strconv.FormatInt(id, 10))
	}
	products, err := r.products.GetAll(ctx, docIDs)
	if err != nil {
		return nil, err
	}
	for _, product := range products {
		out[product.ID] = product
	}
	return out, nil
}

func (r *ProductRepository) Get(ctx context.Context, productID int64) (domain.Product, error) {
	return r.products.Get(ctx, strconv.FormatInt(productID, 10))
}

func (r *ProductRepository) GetBySlug(ctx context.Context, slug string) (domain.Product, error) {
	slug = strings.TrimSpace(slug)
	found, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(found) == 0 {
		return domain.Product{}, pfirestore.NotFound("products.get_by_slug", "product %q not found", slug)
	}
	return found[0], nil
}

func paginateProducts(items []domain.Product, query domain.ProductQuery) domain.ProductPage {
	sortProducts(items, query.Sort)
	total := len(items)
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if query.PageSize > 0 && offset+query.PageSize < total {
		end = offset + query.PageSize
	}
	page := domain.ProductPage{Items: append([]domain.Product{}, items[offset:end]...), Total: total}
	if end < total {
		page.NextOffset = end
	}
	return page
}

func sortProducts(items []domain.Product, option domain.SortOption) {
	var less func(a, b domain.Product) bool
	switch option {
	case domain.SortNewest:
		less = func(a, b domain.Product) bool { return a.CreatedAt.After(b.CreatedAt) }
	case domain.SortPriceAsc:
		less = func(a, b domain.Product) bool { return a.PriceCurrent < b.PriceCurrent }
	case domain.SortPriceDesc:
		less = func(a, b domain.Product) bool { return a.PriceCurrent > b.PriceCurrent }
	}
	sort.SliceStable(items, func(i, j int) bool {
		if less != nil {
			if less(items[i], items[j]) {
				return true
			}
			if less(items[j], items[i]) {
				return false
			}
		}
		return items[i].ID < items[j].ID
	})
}

type productDocument struct {
	ID            int64             `firestore:"id"`
	Slug          string            `firestore:"slug"`
	Name          string            `firestore:"name"`
	Description   string            `firestore:"description"`
	CategoryID    *int64            `firestore:"categoryId"`
	SubcategoryID *int64            `firestore:"subcategoryId"`
	PriceCurrent  float64           `firestore:"priceCurrent"`
	PriceOld      *float64          `firestore:"priceOld"`
	Sizes         []string          `firestore:"sizes"`
	Colors        []productColorDoc `firestore:"colors"`
	Images        []productImageDoc `firestore:"images"`
	CreatedAt     time.Time         `firestore:"createdAt"`
}

type productColorDoc struct {
	ID   int64  `firestore:"id"`
	Name string `firestore:"name"`
	Hex  string `firestore:"hex"`
}

type productImageDoc struct {
	Path string `firestore:"path"`
	Type string `firestore:"type"`
	Alt  string `firestore:"alt"`
}

func decodeProduct(snap *firestore.DocumentSnapshot) (domain.Product, error) {
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, err
	}
	if doc.ID == 0 {
		id, err := strconv.ParseInt(snap.Ref.ID, 10, 64)
		if err != nil {
			return domain.Product{}, errors.New("non-numeric id")
		}
		doc.ID = id
	}
	product := domain.Product{
		ID:            doc.ID,
		Slug:          doc.Slug,
		Name:          doc.Name,
		Description:   doc.Description,
		CategoryID:    doc.CategoryID,
		SubcategoryID: doc.SubcategoryID,
		PriceCurrent:  doc.PriceCurrent,
		PriceOld:      doc.PriceOld,
		Sizes:         doc.Sizes,
		CreatedAt:     doc.CreatedAt,
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = snap.CreateTime
	}
	for _, c := range doc.Colors {
		product.Colors = append(product.Colors, domain.ProductColor{ID: c.ID, Name: c.Name, Hex: c.Hex})
	}
	for _, img := range doc.Images {
		product.Images = append(product.Images, domain.ProductImage{Path: img.Path, Type: img.Type, Alt: img.Alt})
	}
	return product, nil
}
