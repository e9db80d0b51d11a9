package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Decoder hydrates a typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder narrows a collection query before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection gives typed read access to one top-level collection. Writes go through DocumentRef so
// callers can run them inside transactions.
type Collection[T any] struct {
	provider *Provider
	name     string
	decode   Decoder[T]
}

// NewCollection binds a collection name to a decoder. A nil decoder uses Firestore struct tags.
func NewCollection[T any](provider *Provider, name string, decode Decoder[T]) (*Collection[T], error) {
	if provider == nil {
		return nil, errors.New("firestore: provider is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &Collection[T]{provider: provider, name: name, decode: decode}, nil
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Ref returns the collection reference on the shared client.
func (c *Collection[T]) Ref(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

// DocumentRef validates id and returns its reference.
func (c *Collection[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%s: document id is required", c.op("document"))
	}
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get fetches and decodes one document. Missing documents report IsNotFound.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return zero, WrapError(c.op("get"), err)
	}
	return c.decodeSnapshot(snap)
}

// GetAll fetches the documents in one round trip, skipping ids that do not exist.
func (c *Collection[T]) GetAll(ctx context.Context, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, coll.Doc(id))
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, WrapError(c.op("get_all"), err)
	}
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		entity, err := c.decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// Query runs the built query and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]T, error) {
	coll, err := c.Ref(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		entity, err := c.decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
}

// Decode applies the collection decoder, for snapshots read inside transactions.
func (c *Collection[T]) Decode(snap *firestore.DocumentSnapshot) (T, error) {
	return c.decodeSnapshot(snap)
}

func (c *Collection[T]) decodeSnapshot(snap *firestore.DocumentSnapshot) (T, error) {
	entity, err := c.decode(snap)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: decode %s: %w", c.op("decode"), snap.Ref.ID, err)
	}
	return entity, nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + strings.ToLower(action)
}

// StructDecoder populates T using Firestore's native struct decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}
