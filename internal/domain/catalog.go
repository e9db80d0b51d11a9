package domain

import "time"

// Product is a catalog entry as stored by the backend.
type Product struct {
	ID            int64
	Slug          string
	Name          string
	Description   string
	CategoryID    *int64
	SubcategoryID *int64
	PriceCurrent  float64
	PriceOld      *float64
	Sizes         []string
	Colors        []ProductColor
	Images        []ProductImage
	CreatedAt     time.Time
}

// OnSale reports whether the product carries a previous price.
func (p Product) OnSale() bool {
	return p.PriceOld != nil
}

// Color returns the color with the given id when the product offers it.
func (p Product) Color(id int64) *ProductColor {
	for i := range p.Colors {
		if p.Colors[i].ID == id {
			c := p.Colors[i]
			return &c
		}
	}
	return nil
}

// ProductColor is a color variant.
type ProductColor struct {
	ID   int64
	Name string
	Hex  string
}

// ProductImage points at an object in the product image bucket.
type ProductImage struct {
	Path string
	Type string
	Alt  string
}

// SortOption names a catalog ordering.
type SortOption string

const (
	SortRecommended SortOption = "recommended"
	SortNewest      SortOption = "newest"
	SortPriceAsc    SortOption = "price_asc"
	SortPriceDesc   SortOption = "price_desc"
)

// PriceBound is an inclusive or exclusive bound on price_current.
type PriceBound struct {
	Value     float64
	Inclusive bool
}

// PriceRange is a named price filter. A nil bound is open.
type PriceRange struct {
	ID    string
	Label string
	Min   *PriceBound
	Max   *PriceBound
}

// Contains reports whether price falls within the range.
func (r PriceRange) Contains(price float64) bool {
	if r.Min != nil {
		if r.Min.Inclusive && price < r.Min.Value {
			return false
		}
		if !r.Min.Inclusive && price <= r.Min.Value {
			return false
		}
	}
	if r.Max != nil {
		if r.Max.Inclusive && price > r.Max.Value {
			return false
		}
		if !r.Max.Inclusive && price >= r.Max.Value {
			return false
		}
	}
	return true
}

// ProductQuery narrows a catalog listing. Selected price ranges are OR-ed together.
type ProductQuery struct {
	CategoryID  *int64
	Search      string
	PriceRanges []PriceRange
	OnSale      bool
	Sort        SortOption
	PageSize    int
	Offset      int
}

// Matches applies the query predicates to a single product.
func (q ProductQuery) Matches(p Product) bool {
	if q.CategoryID != nil {
		inCategory := p.CategoryID != nil && *p.CategoryID == *q.CategoryID
		inSubcategory := p.SubcategoryID != nil && *p.SubcategoryID == *q.CategoryID
		if !inCategory && !inSubcategory {
			return false
		}
	}
	if q.OnSale && !p.OnSale() {
		return false
	}
	if len(q.PriceRanges) > 0 {
		matched := false
		for _, r := range q.PriceRanges {
			if r.Contains(p.PriceCurrent) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// ProductPage is one page of a catalog listing.
type ProductPage struct {
	Items      []Product
	Total      int
	NextOffset int
}
