package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is the body of a transaction. It may be invoked more than once when Firestore retries on
// contention, so it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	budget   time.Duration
}

// WithTxAttempts overrides how often a contended transaction is retried.
func WithTxAttempts(n int) TxOption {
	return func(s *txSettings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// RunTransaction runs fn with retries, capped at fifteen seconds unless ctx ends sooner, and
// classifies the outcome with WrapError.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil || fn == nil {
		return errors.New("firestore: transaction needs a client and a function")
	}
	settings := txSettings{attempts: 5, budget: 15 * time.Second}
	for _, opt := range opts {
		opt(&settings)
	}

	ctx, cancel := context.WithTimeout(ctx, settings.budget)
	defer cancel()
	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.attempts)))
}
