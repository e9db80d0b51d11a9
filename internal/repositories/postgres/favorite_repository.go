package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	ppostgres "github.com/hanko-field/storefront/internal/platform/postgres"
	"github.com/hanko-field/storefront/internal/repositories"
)

// FavoriteRepository stores (profile, product) favorite pairs.
type FavoriteRepository struct {
	db *sql.DB
}

var _ repositories.FavoriteRepository = (*FavoriteRepository)(nil)

// NewFavoriteRepository constructs a Postgres-backed favorite repository.
func NewFavoriteRepository(db *sql.DB) (*FavoriteRepository, error) {
	if db == nil {
		return nil, errors.New("favorite repository requires database")
	}
	return &FavoriteRepository{db: db}, nil
}

func (r *FavoriteRepository) List(ctx context.Context, userID string) ([]int64, error) {
	uid, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := ppostgres.RunnerFor(ctx, r.db).QueryContext(ctx,
		`SELECT product_id FROM favorites WHERE profile_id = $1 ORDER BY created_at DESC, product_id`, uid)
	if err != nil {
		return nil, ppostgres.WrapError("favorites.list", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, ppostgres.WrapError("favorites.list", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("favorites.list", err)
	}
	return ids, nil
}

// Upsert inserts every product id in one statement; existing pairs are left untouched.
func (r *FavoriteRepository) Upsert(ctx context.Context, userID string, productIDs []int64) error {
	uid, err := requireUserID(userID)
	if err != nil {
		return err
	}
	if len(productIDs) == 0 {
		return nil
	}
	_, err = ppostgres.RunnerFor(ctx, r.db).ExecContext(ctx, `
INSERT INTO favorites (profile_id, product_id)
SELECT $1, unnest($2::bigint[])
ON CONFLICT (profile_id, product_id) DO NOTHING`, uid, pq.Array(productIDs))
	if err != nil {
		return ppostgres.WrapError("favorites.upsert", err)
	}
	return nil
}

func (r *FavoriteRepository) Delete(ctx context.Context, userID string, productID int64) error {
	uid, err := requireUserID(userID)
	if err != nil {
		return err
	}
	_, err = ppostgres.RunnerFor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM favorites WHERE profile_id = $1 AND product_id = $2`, uid, productID)
	if err != nil {
		return ppostgres.WrapError("favorites.delete", err)
	}
	return nil
}
