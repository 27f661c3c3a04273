package remote

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a repository or entry does not exist.
// The empty-repository case is carried as a flag so enumeration can
// render it as an empty listing instead of a failure.
type NotFoundError struct {
	Repo      string
	Path      string
	EmptyRepo bool
}

func (e *NotFoundError) Error() string {
	if e.EmptyRepo {
		return fmt.Sprintf("repository %s has no commits", e.Repo)
	}
	if e.Path == "" {
		return fmt.Sprintf("repository %s not found", e.Repo)
	}
	return fmt.Sprintf("%s in repository %s not found", e.Path, e.Repo)
}

// ConflictError is returned when the content hash precondition on an
// update or delete no longer matches the remote state. Callers must
// re-read and resubmit; the gateway never retries.
type ConflictError struct {
	Repo string
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("content hash mismatch on %s in repository %s", e.Path, e.Repo)
}

// AuthError is returned when the remote store rejects the token.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("remote login rejected: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a not-found condition, including
// the empty-repository case.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsEmptyRepository reports whether err is the benign zero-commit
// repository condition.
func IsEmptyRepository(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.EmptyRepo
}

// IsConflict reports whether err is a content hash mismatch.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
