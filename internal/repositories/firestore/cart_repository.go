package firestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const cartItemsCollectionPattern = "users/%s/cartItems"

// CartRepository stores one document per cart line under users/{uid}/cartItems. Document ids are the
// path-escaped composite key so a line has exactly one canonical document.
type CartRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider}, nil
}

func (r *CartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartLineItem, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}
	iter := coll.Documents(ctx)
	defer iter.Stop()

	var docs []cartItemDocument
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("cart.list", err)
		}
		var doc cartItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode cart item %s: %w", snap.Ref.ID, err)
		}
		docs = append(docs, doc)
	}
	// Legacy documents may lack createdAt; a stable sort keeps them in document order.
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })

	items := make([]domain.CartLineItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, cartItemFromDocument(doc))
	}
	return domain.CollapseLineItems(domain.SanitizeLineItems(items)), nil
}

// UpsertItems writes the canonical document for every item and drops legacy documents that spell
// the same key differently. Later items win when the input repeats a key.
func (r *CartRepository) UpsertItems(ctx context.Context, userID string, items []domain.CartLineItem) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	wanted := make(map[domain.CartKey]domain.CartLineItem, len(items))
	for _, item := range domain.SanitizeLineItems(items) {
		wanted[item.Key()] = item
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(coll).GetAll()
		if err != nil {
			return err
		}
		existing := make(map[string]*firestore.DocumentSnapshot, len(snaps))
		for _, snap := range snaps {
			existing[snap.Ref.ID] = snap
		}

		now := time.Now().UTC()
		for _, snap := range snaps {
			item, err := decodeCartItem(snap)
			if err != nil {
				return err
			}
			key := domain.SanitizeLineItem(item).Key()
			if _, ok := wanted[key]; ok && snap.Ref.ID != cartDocID(key) {
				if err := tx.Delete(snap.Ref); err != nil {
					return err
				}
			}
		}
		for key, item := range wanted {
			doc := encodeCartItem(item, now)
			if snap, ok := existing[cartDocID(key)]; ok {
				var prev cartItemDocument
				if err := snap.DataTo(&prev); err == nil && !prev.CreatedAt.IsZero() {
					doc.CreatedAt = prev.CreatedAt
				}
			}
			if err := tx.Set(coll.Doc(cartDocID(key)), doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("cart.upsert", err)
	}
	return nil
}

// DeleteItem removes every document whose canonical key equals key.
func (r *CartRepository) DeleteItem(ctx context.Context, userID string, key domain.CartKey) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	target, ok := domain.ParseCartKey(key)
	if !ok {
		return pfirestore.NotFound("cart.delete", "cart key %q is malformed", key)
	}
	canonical := target.Key()

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(coll.Where("productId", "==", target.ProductID)).GetAll()
		if err != nil {
			return err
		}
		var refs []*firestore.DocumentRef
		for _, snap := range snaps {
			item, err := decodeCartItem(snap)
			if err != nil {
				return err
			}
			if domain.SanitizeLineItem(item).Key() == canonical {
				refs = append(refs, snap.Ref)
			}
		}
		if len(refs) == 0 {
			return pfirestore.NotFound("cart.delete", "cart item %s not found", key)
		}
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("cart.delete", err)
	}
	return nil
}

func (r *CartRepository) DeleteAll(ctx context.Context, userID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs, err := tx.DocumentRefs(coll).GetAll()
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("cart.clear", err)
	}
	return nil
}

func (r *CartRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("cart repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(cartItemsCollectionPattern, uid)), nil
}

type cartItemDocument struct {
	ProductID int64     `firestore:"productId"`
	Size      *string   `firestore:"size"`
	ColorID   *int64    `firestore:"colorId"`
	Quantity  int64     `firestore:"quantity"`
	Key       string    `firestore:"key"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeCartItem(item domain.CartLineItem, now time.Time) cartItemDocument {
	return cartItemDocument{
		ProductID: item.ProductID,
		Size:      item.Size,
		ColorID:   item.ColorID,
		Quantity:  int64(item.Quantity),
		Key:       string(item.Key()),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func decodeCartItem(snap *firestore.DocumentSnapshot) (domain.CartLineItem, error) {
	var doc cartItemDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.CartLineItem{}, fmt.Errorf("decode cart item %s: %w", snap.Ref.ID, err)
	}
	return cartItemFromDocument(doc), nil
}

func cartItemFromDocument(doc cartItemDocument) domain.CartLineItem {
	return domain.CartLineItem{
		ProductID: doc.ProductID,
		Size:      doc.Size,
		ColorID:   doc.ColorID,
		Quantity:  domain.NormalizeQuantity(doc.Quantity),
	}
}

func cartDocID(key domain.CartKey) string {
	return url.PathEscape(string(key))
}
