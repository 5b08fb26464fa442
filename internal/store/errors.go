package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrArgument marks a malformed or inconsistent request.
	ErrArgument = errors.New("invalid argument")
	// ErrDimensionMismatch marks a vector whose length differs from the
	// collection's dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrNotFound marks an absent collection or point.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists marks a collection name that is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrTransient marks a collaborator failure worth retrying.
	ErrTransient = errors.New("transient store error")
	// ErrUnavailable marks a collaborator that stayed unreachable for the
	// whole retry budget.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInsertionFailed marks an insert batch that was rolled back because
	// the index write failed.
	ErrInsertionFailed = errors.New("insertion failed")
	// ErrIntegrityViolation marks disagreement between the two stores.
	ErrIntegrityViolation = errors.New("integrity violation")
)

// DimensionMismatchError reports the first offending vector of a batch.
type DimensionMismatchError struct {
	Collection string
	Expected   int
	Actual     int
	Position   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: vectors in %s have %d dimensions, vector %d has %d",
		e.Collection, e.Expected, e.Position, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// TransientError wraps a collaborator error that a retry may cure.
type TransientError struct {
	Store string
	Op    string
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s: transient: %v", e.Store, e.Op, e.Err)
}

func (e *TransientError) Unwrap() error        { return e.Err }
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// UnavailableError is returned once the retry budget is exhausted.
type UnavailableError struct {
	Store    string
	Op       string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s %s: unavailable after %d attempts: %v", e.Store, e.Op, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error        { return e.Err }
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// InsertionFailedError is returned when the index write of a batch failed
// and the metadata transaction was rolled back.
type InsertionFailedError struct {
	Collection string
	Err        error
}

func (e *InsertionFailedError) Error() string {
	return fmt.Sprintf("insert into %s failed, batch rolled back: %v", e.Collection, e.Err)
}

func (e *InsertionFailedError) Unwrap() error        { return e.Err }
func (e *InsertionFailedError) Is(target error) bool { return target == ErrInsertionFailed }

// PartialDeleteError reports which store still holds a collection after a
// delete that failed on at least one side.
type PartialDeleteError struct {
	Collection      string
	MetadataDeleted bool
	IndexDeleted    bool
	MetadataErr     error
	IndexErr        error
}

func (e *PartialDeleteError) Error() string {
	var remaining []string
	if !e.MetadataDeleted {
		remaining = append(remaining, fmt.Sprintf("metadata store (%v)", e.MetadataErr))
	}
	if !e.IndexDeleted {
		remaining = append(remaining, fmt.Sprintf("index store (%v)", e.IndexErr))
	}
	return fmt.Sprintf("delete %s incomplete, still present in %s", e.Collection, strings.Join(remaining, " and "))
}

func (e *PartialDeleteError) Unwrap() []error {
	var errs []error
	if e.MetadataErr != nil {
		errs = append(errs, e.MetadataErr)
	}
	if e.IndexErr != nil {
		errs = append(errs, e.IndexErr)
	}
	return errs
}

// NotFound wraps ErrNotFound with the missing collection's name.
func NotFound(name string) error {
	return fmt.Errorf("collection %q: %w", name, ErrNotFound)
}
