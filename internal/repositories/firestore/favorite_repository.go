package firestore

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

// FavoriteRepository keeps favorites under users/{uid}/favorites, one document per product id.
type FavoriteRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

func NewFavoriteRepository(provider *pfirestore.Provider) (*FavoriteRepository, error) {
	if provider == nil {
		return nil, errors.New("favorite repository requires firestore provider")
	}
	return &FavoriteRepository{provider: provider, now: time.Now}, nil
}

type favoriteDocument struct {
	ProductID int64     `firestore:"productId"`
	AddedAt   time.Time `firestore:"addedAt"`
}

// List returns favorite product ids, most recent addition first.
func (r *FavoriteRepository) List(ctx context.Context, userID string) ([]int64, error) {
	favorites, err := r.favorites(ctx, userID)
	if err != nil {
		return nil, err
	}
	snaps, err := favorites.OrderBy("addedAt", firestore.Desc).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("favorites.list", err)
	}
	ids := make([]int64, 0, len(snaps))
	for _, snap := range snaps {
		var doc favoriteDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("favorites.list", err)
		}
		ids = append(ids, doc.ProductID)
	}
	return ids, nil
}

// Upsert adds the products that are not favorites yet. Existing favorites keep their addedAt.
func (r *FavoriteRepository) Upsert(ctx context.Context, userID string, productIDs []int64) error {
	favorites, err := r.favorites(ctx, userID)
	if err != nil {
		return err
	}
	ids := slices.Compact(slices.Sorted(slices.Values(productIDs)))
	if len(ids) == 0 {
		return nil
	}
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = favorites.Doc(strconv.FormatInt(id, 10))
	}

	addedAt := r.now().UTC()
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for i, snap := range snaps {
			if snap.Exists() {
				continue
			}
			if err := tx.Create(refs[i], favoriteDocument{ProductID: ids[i], AddedAt: addedAt}); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError("favorites.upsert", err)
}

// Delete removes the favorite. Deleting a product that is not a favorite succeeds.
func (r *FavoriteRepository) Delete(ctx context.Context, userID string, productID int64) error {
	favorites, err := r.favorites(ctx, userID)
	if err != nil {
		return err
	}
	_, err = favorites.Doc(strconv.FormatInt(productID, 10)).Delete(ctx)
	return pfirestore.WrapError("favorites.delete", err)
}

func (r *FavoriteRepository) favorites(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("favorite repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection("users").Doc(uid).Collection("favorites"), nil
}

var _ repositories.FavoriteRepository = (*FavoriteRepository)(nil)
