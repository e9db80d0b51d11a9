package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	domain "github.com/hanko-field/storefront/internal/domain"
	ppostgres "github.com/hanko-field/storefront/internal/platform/postgres"
	"github.com/hanko-field/storefront/internal/repositories"
)

const productColumns = `id, slug, name, description, category_id, subcategory_id, price_current, price_old, sizes, colors, images, created_at`

// ProductRepository reads the catalog from the products table.
type ProductRepository struct {
	db *sql.DB
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Postgres-backed product repository.
func NewProductRepository(db *sql.DB) (*ProductRepository, error) {
	if db == nil {
		return nil, errors.New("product repository requires database")
	}
	return &ProductRepository{db: db}, nil
}

func (r *ProductRepository) List(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error) {
	where, args := buildProductWhere(query)
	runner := ppostgres.RunnerFor(ctx, r.db)

	var total int
	if err := runner.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&total); err != nil {
		return domain.ProductPage{}, ppostgres.WrapError("products.count", err)
	}

	var limit any // NULL means LIMIT ALL
	if query.PageSize > 0 {
		limit = query.PageSize
	}
	offset := max(query.Offset, 0)
	stmt := fmt.Sprintf("SELECT %s FROM products%s%s LIMIT $%d OFFSET $%d",
		productColumns, where, productOrderBy(query.Sort), len(args)+1, len(args)+2)
	rows, err := runner.QueryContext(ctx, stmt, append(args, limit, offset)...)
	if err != nil {
		return domain.ProductPage{}, ppostgres.WrapError("products.list", err)
	}
	defer rows.Close()

	items, err := scanProducts(rows)
	if err != nil {
		return domain.ProductPage{}, err
	}
	page := domain.ProductPage{Items: items, Total: total}
	if next := offset + len(items); next < total && len(items) > 0 {
		page.NextOffset = next
	}
	return page, nil
}

func (r *ProductRepository) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := ppostgres.RunnerFor(ctx, r.db).QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, ppostgres.WrapError("products.get_many", err)
	}
	defer rows.Close()

	items, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

func (r *ProductRepository) Get(ctx context.Context, productID int64) (domain.Product, error) {
	return r.getOne(ctx, "products.get", "id = $1", productID)
}

func (r *ProductRepository) GetBySlug(ctx context.Context, slug string) (domain.Product, error) {
	return r.getOne(ctx, "products.get_by_slug", "slug = $1", strings.TrimSpace(slug))
}

func (r *ProductRepository) getOne(ctx context.Context, op, predicate string, arg any) (domain.Product, error) {
	rows, err := ppostgres.RunnerFor(ctx, r.db).QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE "+predicate+" LIMIT 1", arg)
	if err != nil {
		return domain.Product{}, ppostgres.WrapError(op, err)
	}
	defer rows.Close()

	items, err := scanProducts(rows)
	if err != nil {
		return domain.Product{}, err
	}
	if len(items) == 0 {
		return domain.Product{}, ppostgres.NotFound(op, "product %v not found", arg)
	}
	return items[0], nil
}

func buildProductWhere(query domain.ProductQuery) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if query.CategoryID != nil {
		p := next(*query.CategoryID)
		clauses = append(clauses, fmt.Sprintf("(category_id = %s OR subcategory_id = %s)", p, p))
	}
	if search := strings.TrimSpace(query.Search); search != "" {
		clauses = append(clauses, fmt.Sprintf("name ILIKE %s", next("%"+escapeLike(search)+"%")))
	}
	if query.OnSale {
		clauses = append(clauses, "price_old IS NOT NULL")
	}
	if len(query.PriceRanges) > 0 {
		var ranges []string
		for _, pr := range query.PriceRanges {
			var bounds []string
			if pr.Min != nil {
				op := ">"
				if pr.Min.Inclusive {
					op = ">="
				}
				bounds = append(bounds, fmt.Sprintf("price_current %s %s", op, next(pr.Min.Value)))
			}
			if pr.Max != nil {
				op := "<"
				if pr.Max.Inclusive {
					op = "<="
				}
				bounds = append(bounds, fmt.Sprintf("price_current %s %s", op, next(pr.Max.Value)))
			}
			if len(bounds) == 0 {
				bounds = append(bounds, "TRUE")
			}
			ranges = append(ranges, "("+strings.Join(bounds, " AND ")+")")
		}
		clauses = append(clauses, "("+strings.Join(ranges, " OR ")+")")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func productOrderBy(sort domain.SortOption) string {
	switch sort {
	case domain.SortNewest:
		return " ORDER BY created_at DESC, id"
	case domain.SortPriceAsc:
		return " ORDER BY price_current ASC, id"
	case domain.SortPriceDesc:
		return " ORDER BY price_current DESC, id"
	default:
		return " ORDER BY id"
	}
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	items := []domain.Product{}
	for rows.Next() {
		var (
			p             domain.Product
			categoryID    sql.NullInt64
			subcategoryID sql.NullInt64
			priceOld      sql.NullFloat64
			sizes         pq.StringArray
			colors        []byte
			images        []byte
		)
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &categoryID, &subcategoryID,
			&p.PriceCurrent, &priceOld, &sizes, &colors, &images, &p.CreatedAt); err != nil {
			return nil, ppostgres.WrapError("products.scan", err)
		}
		if categoryID.Valid {
			p.CategoryID = &categoryID.Int64
		}
		if subcategoryID.Valid {
			p.SubcategoryID = &subcategoryID.Int64
		}
		if priceOld.Valid {
			p.PriceOld = &priceOld.Float64
		}
		p.Sizes = []string(sizes)
		var err error
		if p.Colors, err = decodeColors(colors); err != nil {
			return nil, fmt.Errorf("products.scan: colors of %d: %w", p.ID, err)
		}
		if p.Images, err = decodeImages(images); err != nil {
			return nil, fmt.Errorf("products.scan: images of %d: %w", p.ID, err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("products.scan", err)
	}
	return items, nil
}

type colorRow struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

type imageRow struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Alt  string `json:"alt"`
}

func decodeColors(raw []byte) ([]domain.ProductColor, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []colorRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.ProductColor, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ProductColor{ID: row.ID, Name: row.Name, Hex: row.Hex})
	}
	return out, nil
}

func decodeImages(raw []byte) ([]domain.ProductImage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []imageRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.ProductImage, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ProductImage{Path: row.Path, Type: row.Type, Alt: row.Alt})
	}
	return out, nil
}
