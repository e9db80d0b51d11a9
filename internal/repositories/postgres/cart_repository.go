package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	domain "github.com/hanko-field/storefront/internal/domain"
	ppostgres "github.com/hanko-field/storefront/internal/platform/postgres"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	listCartItemsSQL = `
SELECT product_id, size, color_id, quantity
FROM cart_items
WHERE profile_id = $1
ORDER BY created_at, id`

	upsertCartItemSQL = `
INSERT INTO cart_items (profile_id, product_id, size, color_id, quantity)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT ON CONSTRAINT cart_items_line_key
DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()`

	// Legacy spellings of the same line (blank or padded sizes) are folded into the canonical row on
	// read, so they are removed once the canonical row carries their quantity.
	deleteLegacyCartVariantsSQL = `
DELETE FROM cart_items
WHERE profile_id = $1
  AND product_id = $2
  AND color_id IS NOT DISTINCT FROM $3
  AND size IS DISTINCT FROM $4
  AND NULLIF(btrim(size), '') IS NOT DISTINCT FROM $4`

	deleteCartItemSQL = `
DELETE FROM cart_items
WHERE profile_id = $1
  AND product_id = $2
  AND NULLIF(btrim(size), '') IS NOT DISTINCT FROM $3
  AND color_id IS NOT DISTINCT FROM $4`

	deleteAllCartItemsSQL = `DELETE FROM cart_items WHERE profile_id = $1`
)

// CartRepository persists signed-in cart rows in the cart_items table.
type CartRepository struct {
	db *sql.DB
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Postgres-backed cart repository.
func NewCartRepository(db *sql.DB) (*CartRepository, error) {
	if db == nil {
		return nil, errors.New("cart repository requires database")
	}
	return &CartRepository{db: db}, nil
}

func (r *CartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartLineItem, error) {
	uid, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := ppostgres.RunnerFor(ctx, r.db).QueryContext(ctx, listCartItemsSQL, uid)
	if err != nil {
		return nil, ppostgres.WrapError("cart.list", err)
	}
	defer rows.Close()

	var items []domain.CartLineItem
	for rows.Next() {
		var (
			productID int64
			size      sql.NullString
			colorID   sql.NullInt64
			quantity  int64
		)
		if err := rows.Scan(&productID, &size, &colorID, &quantity); err != nil {
			return nil, ppostgres.WrapError("cart.list", err)
		}
		item := domain.CartLineItem{ProductID: productID, Quantity: int(min(quantity, domain.MaxLineQuantity))}
		if size.Valid {
			item.Size = &size.String
		}
		if colorID.Valid {
			item.ColorID = &colorID.Int64
		}
		items = append(items, domain.SanitizeLineItem(item))
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("cart.list", err)
	}
	return domain.CollapseLineItems(items), nil
}

func (r *CartRepository) UpsertItems(ctx context.Context, userID string, items []domain.CartLineItem) error {
	uid, err := requireUserID(userID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return ppostgres.RunInTx(ctx, r.db, func(ctx context.Context) error {
		runner := ppostgres.RunnerFor(ctx, r.db)
		for _, item := range domain.SanitizeLineItems(items) {
			size := nullString(item.Size)
			color := nullInt64(item.ColorID)
			if _, err := runner.ExecContext(ctx, upsertCartItemSQL, uid, item.ProductID, size, color, item.Quantity); err != nil {
				return ppostgres.WrapError("cart.upsert", err)
			}
			if _, err := runner.ExecContext(ctx, deleteLegacyCartVariantsSQL, uid, item.ProductID, color, size); err != nil {
				return ppostgres.WrapError("cart.upsert", err)
			}
		}
		return nil
	})
}

func (r *CartRepository) DeleteItem(ctx context.Context, userID string, key domain.CartKey) error {
	uid, err := requireUserID(userID)
	if err != nil {
		return err
	}
	item, err := parseCartKey(key)
	if err != nil {
		return err
	}
	res, err := ppostgres.RunnerFor(ctx, r.db).ExecContext(ctx, deleteCartItemSQL, uid, item.ProductID, nullString(item.Size), nullInt64(item.ColorID))
	if err != nil {
		return ppostgres.WrapError("cart.delete", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ppostgres.NotFound("cart.delete", "cart item %s not found", key)
	}
	return nil
}

func (r *CartRepository) DeleteAll(ctx context.Context, userID string) error {
	uid, err := requireUserID(userID)
	if err != nil {
		return err
	}
	if _, err := ppostgres.RunnerFor(ctx, r.db).ExecContext(ctx, deleteAllCartItemsSQL, uid); err != nil {
		return ppostgres.WrapError("cart.clear", err)
	}
	return nil
}

func requireUserID(userID string) (string, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return "", errors.New("postgres repository: user id is required")
	}
	return uid, nil
}

func parseCartKey(key domain.CartKey) (domain.CartLineItem, error) {
	item, ok := domain.ParseCartKey(key)
	if !ok {
		return domain.CartLineItem{}, ppostgres.NotFound("cart.delete", "cart key %q is malformed", key)
	}
	return item, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullInt64(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}
