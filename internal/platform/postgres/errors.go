package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Error implements repositories.RepositoryError for Postgres-backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// WrapError classifies err using SQLSTATE codes. Context errors pass through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}

	wrapped := &Error{op: op, err: err}
	if errors.Is(err, sql.ErrNoRows) {
		wrapped.notFound = true
		return wrapped
	}
	if errors.Is(err, sql.ErrConnDone) {
		wrapped.unavailable = true
		return wrapped
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == "23505", code == "40001", code == "40P01":
			wrapped.conflict = true
		case strings.HasPrefix(code, "08"), code == "53300", code == "57P01", code == "57P03":
			wrapped.unavailable = true
		}
	}
	return wrapped
}

// NotFound builds a not-found repository error.
func NotFound(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}
