package memory

import (
	"fmt"

	"github.com/hanko-field/storefront/internal/repositories"
)

type repoError struct {
	err      error
	notFound bool
}

var _ repositories.RepositoryError = (*repoError)(nil)

func notFound(format string, args ...any) error {
	return &repoError{err: fmt.Errorf(format, args...), notFound: true}
}

func (e *repoError) Error() string       { return e.err.Error() }
func (e *repoError) Unwrap() error       { return e.err }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return false }
func (e *repoError) IsUnavailable() bool { return false }
