package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/localstore"
	ppostgres "github.com/hanko-field/storefront/internal/platform/postgres"
	"github.com/hanko-field/storefront/internal/repositories"
)

// GuestStorage keeps guest key/value state in the guest_storage table.
type GuestStorage struct {
	db *sql.DB
}

const defaultGuestPurgeLimit = 200

var (
	_ repositories.GuestStorage        = (*GuestStorage)(nil)
	_ repositories.GuestStorageSweeper = (*GuestStorage)(nil)
)

// NewGuestStorage constructs a Postgres-backed guest storage factory.
func NewGuestStorage(db *sql.DB) (*GuestStorage, error) {
	if db == nil {
		return nil, errors.New("guest storage requires database")
	}
	return &GuestStorage{db: db}, nil
}

func (g *GuestStorage) ForSession(sessionID string) localstore.Storage {
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return nil
	}
	return &guestSession{db: g.db, sessionID: sid}
}

// PurgeIdle deletes every row of up to limit sessions whose newest write is older than idleBefore.
// It reports the number of sessions removed.
func (g *GuestStorage) PurgeIdle(ctx context.Context, idleBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultGuestPurgeLimit
	}
	rows, err := ppostgres.RunnerFor(ctx, g.db).QueryContext(ctx, `
DELETE FROM guest_storage
WHERE session_id IN (
    SELECT session_id FROM guest_storage
    GROUP BY session_id
    HAVING max(updated_at) < $1
    LIMIT $2
)
RETURNING session_id`, idleBefore.UTC(), limit)
	if err != nil {
		return 0, ppostgres.WrapError("guest_storage.purge", err)
	}
	defer rows.Close()
	sessions := make(map[string]struct{})
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return 0, ppostgres.WrapError("guest_storage.purge", err)
		}
		sessions[sid] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return 0, ppostgres.WrapError("guest_storage.purge", err)
	}
	return len(sessions), nil
}

// Touch bumps updated_at on every row of sessionID.
func (g *GuestStorage) Touch(ctx context.Context, sessionID string) error {
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return nil
	}
	_, err := ppostgres.RunnerFor(ctx, g.db).ExecContext(ctx,
		`UPDATE guest_storage SET updated_at = now() WHERE session_id = $1`, sid)
	if err != nil {
		return ppostgres.WrapError("guest_storage.touch", err)
	}
	return nil
}

type guestSession struct {
	db        *sql.DB
	sessionID string
}

func (s *guestSession) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := ppostgres.RunnerFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT value FROM guest_storage WHERE session_id = $1 AND key = $2`, s.sessionID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ppostgres.WrapError("guest_storage.get", err)
	}
	return value, true, nil
}

func (s *guestSession) SetItem(ctx context.Context, key, value string) error {
	_, err := ppostgres.RunnerFor(ctx, s.db).ExecContext(ctx, `
INSERT INTO guest_storage (session_id, key, value)
VALUES ($1, $2, $3)
ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		s.sessionID, key, value)
	if err != nil {
		return ppostgres.WrapError("guest_storage.set", err)
	}
	return nil
}

func (s *guestSession) RemoveItem(ctx context.Context, key string) error {
	_, err := ppostgres.RunnerFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM guest_storage WHERE session_id = $1 AND key = $2`, s.sessionID, key)
	if err != nil {
		return ppostgres.WrapError("guest_storage.remove", err)
	}
	return nil
}
