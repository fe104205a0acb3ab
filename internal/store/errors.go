package store

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rosterd/internal/contact"
)

var (
	// ErrNotFound is returned when a record or relationship does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSelfContact is returned when removing the local self record.
	ErrSelfContact = errors.New("self contact cannot be removed")

	// ErrDuplicateOrigin is returned when a record's provider address is
	// already stored under the same sync target.
	ErrDuplicateOrigin = errors.New("origin already stored")
)

// ValidationError reports a record that breaks a structural rule and was
// never sent to the database.
type ValidationError struct {
	ID     contact.ID
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return "invalid new contact: " + e.Reason
	}
	return fmt.Sprintf("invalid contact %s: %s", e.ID, e.Reason)
}

// BatchError reports the records of a batch that could not be written.
// Keys are indices into the batch. Nothing from the batch was stored.
type BatchError struct {
	Errors map[int]error
}

// Indices returns the failing indices in ascending order.
func (e *BatchError) Indices() []int {
	out := make([]int, 0, len(e.Errors))
	for i := range e.Errors {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, i := range e.Indices() {
		parts = append(parts, fmt.Sprintf("[%d] %v", i, e.Errors[i]))
	}
	return fmt.Sprintf("batch rejected %d record(s): %s", len(e.Errors), strings.Join(parts, "; "))
}

// IsBatchError reports whether err is or wraps a *BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}
