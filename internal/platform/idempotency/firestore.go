package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
)

const (
	defaultCollection = "idempotencyKeys"
	defaultSweepLimit = 200
)

// FirestoreOption customises a FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding idempotency entries.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithTransactionAttempts overrides how often a contended claim is retried.
func WithTransactionAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.txOptions = append(s.txOptions, pfirestore.WithTxAttempts(attempts))
		}
	}
}

// FirestoreStore keeps entries in Firestore so replays survive across instances.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	txOptions  []pfirestore.TxOption
}

func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{client: client, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *FirestoreStore) Claim(ctx context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	ref := s.doc(key)
	var claim Claim
	err := pfirestore.RunTransaction(ctx, s.client, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := readEntry(tx, ref)
		if err != nil {
			return err
		}
		result, write, err := decide(current, key, fingerprint, now.UTC(), ttl)
		if err != nil {
			return err
		}
		claim = result
		if !write {
			return nil
		}
		return tx.Set(ref, toEntryDocument(result.Entry))
	}, s.txOptions...)
	if err != nil {
		return Claim{}, err
	}
	return claim, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key Key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	ref := s.doc(key)
	return pfirestore.RunTransaction(ctx, s.client, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := readEntry(tx, ref)
		if err != nil {
			return err
		}
		entry, err := settle(current, key, fingerprint, reply, now.UTC(), ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, toEntryDocument(entry))
	}, s.txOptions...)
}

func (s *FirestoreStore) Abandon(ctx context.Context, key Key) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return pfirestore.WrapError("idempotency.abandon", err)
}

// Sweep deletes up to limit expired entries through a bulk writer.
func (s *FirestoreStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	snaps, err := s.client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.sweep", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	writer := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
	for _, snap := range snaps {
		job, err := writer.Delete(snap.Ref)
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.sweep", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, pfirestore.WrapError("idempotency.sweep", firstErr)
}

func (s *FirestoreStore) doc(key Key) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key.docID())
}

func readEntry(tx *firestore.Transaction, ref *firestore.DocumentRef) (*Entry, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc entryDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	entry := doc.entry()
	return &entry, nil
}

type entryDocument struct {
	Scope       string              `firestore:"scope"`
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Phase       string              `firestore:"phase"`
	ReplyStatus int                 `firestore:"replyStatus"`
	ReplyHeader map[string][]string `firestore:"replyHeader,omitempty"`
	ReplyBody   []byte              `firestore:"replyBody,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func toEntryDocument(e Entry) entryDocument {
	return entryDocument{
		Scope:       e.Key.Scope,
		Key:         e.Key.Value,
		Fingerprint: e.Fingerprint,
		Phase:       string(e.Phase),
		ReplyStatus: e.Reply.Status,
		ReplyHeader: e.Reply.Header,
		ReplyBody:   e.Reply.Body,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

func (d entryDocument) entry() Entry {
	return Entry{
		Key:         Key{Scope: d.Scope, Value: d.Key},
		Fingerprint: d.Fingerprint,
		Phase:       Phase(d.Phase),
		Reply:       Reply{Status: d.ReplyStatus, Header: d.ReplyHeader, Body: d.ReplyBody},
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}
