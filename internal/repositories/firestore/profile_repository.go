package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const profileCollection = "profiles"

// ProfileRepository persists account profiles keyed by auth uid.
type ProfileRepository struct {
	provider *pfirestore.Provider
	profiles *pfirestore.Collection[profileDocument]
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository constructs a Firestore-backed profile repository.
func NewProfileRepository(provider *pfirestore.Provider) (*ProfileRepository, error) {
	if provider == nil {
		return nil, errors.New("profile repository requires firestore provider")
	}
	profiles, err := pfirestore.NewCollection[profileDocument](provider, profileCollection, nil)
	if err != nil {
		return nil, err
	}
	return &ProfileRepository{provider: provider, profiles: profiles}, nil
}

// Upsert replaces the profile document, keeping the original creation time.
func (r *ProfileRepository) Upsert(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	ref, err := r.doc(ctx, profile.ID)
	if err != nil {
		return domain.Profile{}, err
	}
	var saved domain.Profile
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now().UTC()
		doc := fromDomainProfile(profile)
		doc.CreatedAt = now
		doc.UpdatedAt = now

		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if prev, err := r.profiles.Decode(snap); err == nil && !prev.CreatedAt.IsZero() {
				doc.CreatedAt = prev.CreatedAt
			}
		case status.Code(err) != codes.NotFound:
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = toDomainProfile(ref.ID, doc)
		return nil
	})
	if err != nil {
		return domain.Profile{}, pfirestore.WrapError("profiles.upsert", err)
	}
	return saved, nil
}

func (r *ProfileRepository) Get(ctx context.Context, userID string) (domain.Profile, error) {
	uid := strings.TrimSpace(userID)
	doc, err := r.profiles.Get(ctx, uid)
	if err != nil {
		return domain.Profile{}, err
	}
	return toDomainProfile(uid, doc), nil
}

// Update applies patch to an existing profile. Missing profiles report IsNotFound.
func (r *ProfileRepository) Update(ctx context.Context, userID string, patch domain.ProfilePatch) (domain.Profile, error) {
	ref, err := r.doc(ctx, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	var saved domain.Profile
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.profiles.Decode(snap)
		if err != nil {
			return err
		}
		updated := patch.Apply(toDomainProfile(ref.ID, doc))
		next := fromDomainProfile(updated)
		next.CreatedAt = doc.CreatedAt
		next.UpdatedAt = time.Now().UTC()
		if err := tx.Set(ref, next); err != nil {
			return err
		}
		saved = toDomainProfile(ref.ID, next)
		return nil
	})
	if err != nil {
		return domain.Profile{}, pfirestore.WrapError("profiles.update", err)
	}
	return saved, nil
}

func (r *ProfileRepository) doc(ctx context.Context, userID string) (*firestore.DocumentRef, error) {
	if r == nil || r.profiles == nil {
		return nil, errors.New("profile repository not initialised")
	}
	return r.profiles.DocumentRef(ctx, userID)
}

type profileDocument struct {
	Email        string    `firestore:"email"`
	FirstName    string    `firestore:"firstName"`
	LastName     string    `firestore:"lastName"`
	Gender       *string   `firestore:"gender,omitempty"`
	Address      *string   `firestore:"address,omitempty"`
	Phone        *string   `firestore:"phone,omitempty"`
	IsSubscribed bool      `firestore:"isSubscribed"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func fromDomainProfile(p domain.Profile) profileDocument {
	return profileDocument{
		Email:        strings.TrimSpace(p.Email),
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Gender:       p.Gender,
		Address:      p.Address,
		Phone:        p.Phone,
		IsSubscribed: p.IsSubscribed,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func toDomainProfile(id string, doc profileDocument) domain.Profile {
	return domain.Profile{
		ID:           id,
		Email:        doc.Email,
		FirstName:    doc.FirstName,
		LastName:     doc.LastName,
		Gender:       doc.Gender,
		Address:      doc.Address,
		Phone:        doc.Phone,
		IsSubscribed: doc.IsSubscribed,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}
