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

const profileColumns = `id, email, first_name, last_name, gender, address, phone, is_subscribed, created_at, updated_at`

// ProfileRepository persists account profiles in the profiles table.
type ProfileRepository struct {
	db *sql.DB
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository constructs a Postgres-backed profile repository.
func NewProfileRepository(db *sql.DB) (*ProfileRepository, error) {
	if db == nil {
		return nil, errors.New("profile repository requires database")
	}
	return &ProfileRepository{db: db}, nil
}

func (r *ProfileRepository) Upsert(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	uid, err := requireUserID(profile.ID)
	if err != nil {
		return domain.Profile{}, err
	}
	row := ppostgres.RunnerFor(ctx, r.db).QueryRowContext(ctx, `
INSERT INTO profiles (id, email, first_name, last_name, gender, address, phone, is_subscribed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    email = EXCLUDED.email,
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    gender = EXCLUDED.gender,
    address = EXCLUDED.address,
    phone = EXCLUDED.phone,
    is_subscribed = EXCLUDED.is_subscribed,
    updated_at = now()
RETURNING `+profileColumns,
		uid, strings.TrimSpace(profile.Email), profile.FirstName, profile.LastName,
		nullString(profile.Gender), nullString(profile.Address), nullString(profile.Phone), profile.IsSubscribed)
	return scanProfile("profiles.upsert", row)
}

func (r *ProfileRepository) Get(ctx context.Context, userID string) (domain.Profile, error) {
	uid, err := requireUserID(userID)
	if err != nil {
		return domain.Profile{}, err
	}
	row := ppostgres.RunnerFor(ctx, r.db).QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE id = $1", uid)
	return scanProfile("profiles.get", row)
}

// Update applies patch with COALESCE so unset fields keep their stored values.
func (r *ProfileRepository) Update(ctx context.Context, userID string, patch domain.ProfilePatch) (domain.Profile, error) {
	uid, err := requireUserID(userID)
	if err != nil {
		return domain.Profile{}, err
	}
	row := ppostgres.RunnerFor(ctx, r.db).QueryRowContext(ctx, `
UPDATE profiles SET
    first_name = COALESCE($2, first_name),
    last_name = COALESCE($3, last_name),
    gender = COALESCE($4, gender),
    address = COALESCE($5, address),
    phone = COALESCE($6, phone),
    is_subscribed = COALESCE($7, is_subscribed),
    updated_at = now()
WHERE id = $1
RETURNING `+profileColumns,
		uid, nullString(patch.FirstName), nullString(patch.LastName), nullString(patch.Gender),
		nullString(patch.Address), nullString(patch.Phone), nullBool(patch.IsSubscribed))
	return scanProfile("profiles.update", row)
}

func scanProfile(op string, row *sql.Row) (domain.Profile, error) {
	var (
		p       domain.Profile
		gender  sql.NullString
		address sql.NullString
		phone   sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &gender, &address, &phone,
		&p.IsSubscribed, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Profile{}, ppostgres.WrapError(op, err)
	}
	p.Gender = stringPtr(gender)
	p.Address = stringPtr(address)
	p.Phone = stringPtr(phone)
	return p, nil
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullBool(value *bool) sql.NullBool {
	if value == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *value, Valid: true}
}
