package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestMemoryStore_ClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := Key{Scope: "guest:s1", Value: "k1"}

	claim, err := store.Claim(ctx, key, "fp", fixedTime, time.Hour)
	if err != nil || claim.Verdict != VerdictProceed {
		t.Fatalf("expected proceed, got %v %v", claim.Verdict, err)
	}
	if claim, _ = store.Claim(ctx, key, "fp", fixedTime, time.Hour); claim.Verdict != VerdictBusy {
		t.Fatalf("expected busy while in flight, got %v", claim.Verdict)
	}

	reply := Reply{Status: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}, "Date": {"x"}}, Body: []byte(`{}`)}
	if err := store.Complete(ctx, key, "fp", reply, fixedTime.Add(time.Minute), time.Hour); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	claim, err = store.Claim(ctx, key, "fp", fixedTime.Add(2*time.Minute), time.Hour)
	if err != nil || claim.Verdict != VerdictReplay {
		t.Fatalf("expected replay, got %v %v", claim.Verdict, err)
	}
	if !claim.Entry.CreatedAt.Equal(fixedTime) {
		t.Fatalf("expected creation time to survive completion, got %v", claim.Entry.CreatedAt)
	}
	if claim.Entry.Reply.Header.Get("Date") != "" {
		t.Fatal("expected non-replayable headers to be dropped")
	}

	if _, err := store.Claim(ctx, key, "other", fixedTime, time.Hour); !errors.Is(err, ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
}

func TestMemoryStore_ExpiredEntryCanBeReclaimed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := Key{Scope: "user:u1", Value: "k"}
	if _, err := store.Claim(ctx, key, "fp-old", fixedTime, time.Minute); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	claim, err := store.Claim(ctx, key, "fp-new", fixedTime.Add(time.Minute), time.Minute)
	if err != nil || claim.Verdict != VerdictProceed {
		t.Fatalf("expected expired key to be reclaimable, got %v %v", claim.Verdict, err)
	}
}

func TestMemoryStore_SweepRespectsLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, v := range []string{"a", "b", "c"} {
		if _, err := store.Claim(ctx, Key{Scope: "anonymous", Value: v}, "fp", fixedTime, time.Minute); err != nil {
			t.Fatalf("Claim: %v", err)
		}
	}
	if _, err := store.Claim(ctx, Key{Scope: "anonymous", Value: "fresh"}, "fp", fixedTime.Add(time.Hour), time.Hour); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	removed, _ := store.Sweep(ctx, fixedTime.Add(time.Hour), 2)
	if removed != 2 || store.Len() != 2 {
		t.Fatalf("expected 2 removed and 2 left, got %d removed %d left", removed, store.Len())
	}
	removed, _ = store.Sweep(ctx, fixedTime.Add(time.Hour), 0)
	if removed != 1 || store.Len() != 1 {
		t.Fatalf("expected the last expired entry swept, got %d removed %d left", removed, store.Len())
	}
}

func TestKeyDocIDSeparatesScopes(t *testing.T) {
	a := Key{Scope: "guest:ab", Value: "c"}.docID()
	b := Key{Scope: "guest:a", Value: "bc"}.docID()
	if a == b || len(a) != 64 {
		t.Fatalf("expected distinct 64-char ids, got %s %s", a, b)
	}
}
