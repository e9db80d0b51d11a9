// Package idempotency replays the stored reply when a shopper retries a cart mutation with the
// same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a claimed key is remembered when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused is returned when a key comes back with a different request body or route.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// Key identifies a client key within the shopper that sent it. Scope is "user:<uid>",
// "guest:<session id>" or "anonymous", so two shoppers never share replays.
type Key struct {
	Scope string
	Value string
}

func (k Key) String() string { return k.Scope + "/" + k.Value }

// docID is safe for document stores that restrict id characters.
func (k Key) docID() string {
	sum := sha256.Sum256([]byte(k.Scope + "\x00" + k.Value))
	return hex.EncodeToString(sum[:])
}

// Phase tracks whether the guarded handler has finished for a key.
type Phase string

const (
	PhaseInFlight Phase = "in_flight"
	PhaseDone     Phase = "done"
)

// Reply is the captured handler response.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Entry is the stored state for one key.
type Entry struct {
	Key         Key
	Fingerprint string
	Phase       Phase
	Reply       Reply
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Verdict tells the middleware what to do with a claimed key.
type Verdict int

const (
	// VerdictProceed means the caller owns the key and must run the handler.
	VerdictProceed Verdict = iota
	// VerdictReplay means a finished reply is stored for the key.
	VerdictReplay
	// VerdictBusy means another request holds the key.
	VerdictBusy
)

// Claim is the result of Store.Claim.
type Claim struct {
	Verdict Verdict
	Entry   Entry
}

// Store persists claimed keys and their replies. Implementations must make Claim atomic per key.
type Store interface {
	Claim(ctx context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key Key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key Key) error
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// decide resolves a claim against the stored entry. The returned bool reports whether the claim's
// entry must be written back.
func decide(current *Entry, key Key, fingerprint string, now time.Time, ttl time.Duration) (Claim, bool, error) {
	if current == nil || current.expired(now) {
		fresh := Entry{
			Key:         key,
			Fingerprint: fingerprint,
			Phase:       PhaseInFlight,
			CreatedAt:   now,
			ExpiresAt:   now.Add(normalizeTTL(ttl)),
		}
		return Claim{Verdict: VerdictProceed, Entry: fresh}, true, nil
	}
	if current.Fingerprint != fingerprint {
		return Claim{}, false, ErrKeyReused
	}
	if current.Phase == PhaseDone {
		return Claim{Verdict: VerdictReplay, Entry: *current}, false, nil
	}
	return Claim{Verdict: VerdictBusy, Entry: *current}, false, nil
}

// settle builds the finished entry for a key, keeping the original creation time when one exists.
func settle(current *Entry, key Key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) (Entry, error) {
	created := now
	if current != nil && !current.expired(now) {
		if current.Fingerprint != fingerprint {
			return Entry{}, ErrKeyReused
		}
		created = current.CreatedAt
	}
	stored := Reply{Status: reply.Status, Header: replayableHeader(reply.Header)}
	if len(reply.Body) > 0 {
		stored.Body = append([]byte(nil), reply.Body...)
	}
	return Entry{
		Key:         key,
		Fingerprint: fingerprint,
		Phase:       PhaseDone,
		Reply:       stored,
		CreatedAt:   created,
		ExpiresAt:   now.Add(normalizeTTL(ttl)),
	}, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// replayedHeaders lists the only response headers stored for replay. Cookies are never replayed;
// the session middleware reissues them on every request.
var replayedHeaders = []string{"Content-Type", "Content-Language", "Cache-Control", "Location", "Etag"}

func replayableHeader(h http.Header) http.Header {
	out := make(http.Header, len(replayedHeaders))
	for _, name := range replayedHeaders {
		if values := h.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}
