package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/storefront/internal/localstore"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	guestSessionCollection = "guestSessions"
	defaultGuestPurgeLimit = 200
)

// GuestStorage keeps each guest session's key/value state in one guestSessions/{sid} document.
type GuestStorage struct {
	provider *pfirestore.Provider
}

var (
	_ repositories.GuestStorage        = (*GuestStorage)(nil)
	_ repositories.GuestStorageSweeper = (*GuestStorage)(nil)
)

// NewGuestStorage constructs a Firestore-backed guest storage factory.
func NewGuestStorage(provider *pfirestore.Provider) (*GuestStorage, error) {
	if provider == nil {
		return nil, errors.New("guest storage requires firestore provider")
	}
	return &GuestStorage{provider: provider}, nil
}

func (g *GuestStorage) ForSession(sessionID string) localstore.Storage {
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return nil
	}
	return &guestSession{provider: g.provider, sessionID: sid}
}

// PurgeIdle deletes guestSessions documents not written since idleBefore.
func (g *GuestStorage) PurgeIdle(ctx context.Context, idleBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultGuestPurgeLimit
	}
	client, err := g.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	snaps, err := client.Collection(guestSessionCollection).
		Where("updatedAt", "<", idleBefore.UTC()).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("guest_storage.purge", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
	for _, snap := range snaps {
		job, err := writer.Delete(snap.Ref, firestore.LastUpdateTime(snap.UpdateTime))
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("guest_storage.purge", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	removed := 0
	var firstErr error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			// A session written after the query fails its precondition and is kept.
			if status.Code(err) == codes.FailedPrecondition {
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, pfirestore.WrapError("guest_storage.purge", firstErr)
}

// Touch bumps updatedAt on an existing session document.
func (g *GuestStorage) Touch(ctx context.Context, sessionID string) error {
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return nil
	}
	ref, err := (&guestSession{provider: g.provider, sessionID: sid}).doc(ctx)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{{Path: "updatedAt", Value: time.Now().UTC()}})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return pfirestore.WrapError("guest_storage.touch", err)
}

type guestSession struct {
	provider  *pfirestore.Provider
	sessionID string
}

type guestSessionDocument struct {
	Values    map[string]string `firestore:"values"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

func (s *guestSession) GetItem(ctx context.Context, key string) (string, bool, error) {
	ref, err := s.doc(ctx)
	if err != nil {
		return "", false, err
	}
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, pfirestore.WrapError("guest_storage.get", err)
	}
	var doc guestSessionDocument
	if err := snap.DataTo(&doc); err != nil {
		return "", false, pfirestore.WrapError("guest_storage.get", err)
	}
	value, ok := doc.Values[key]
	return value, ok, nil
}

func (s *guestSession) SetItem(ctx context.Context, key, value string) error {
	ref, err := s.doc(ctx)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, map[string]any{
		"values":    map[string]any{key: value},
		"updatedAt": time.Now().UTC(),
	}, firestore.MergeAll)
	return pfirestore.WrapError("guest_storage.set", err)
}

func (s *guestSession) RemoveItem(ctx context.Context, key string) error {
	ref, err := s.doc(ctx)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"values", key}, Value: firestore.Delete},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return pfirestore.WrapError("guest_storage.remove", err)
}

func (s *guestSession) doc(ctx context.Context) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(guestSessionCollection).Doc(s.sessionID), nil
}
