package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an event the engine could not apply. The Run loop logs
// it and moves on to the next event.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Event is the type of the event being processed.
	Event EventType

	// Account is the account path the event refers to.
	Account string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeSelfUnavailable indicates the self record could not be read
	// or written.
	ErrCodeSelfUnavailable RuntimeErrorCode = "SELF_UNAVAILABLE"

	// ErrCodeAccountNotFound indicates an event for an account the engine
	// does not know.
	ErrCodeAccountNotFound RuntimeErrorCode = "ACCOUNT_NOT_FOUND"

	// ErrCodeWrongAccount indicates a contact addressed to another account.
	ErrCodeWrongAccount RuntimeErrorCode = "WRONG_ACCOUNT"

	// ErrCodeAccountExists indicates an account announced twice.
	ErrCodeAccountExists RuntimeErrorCode = "ACCOUNT_EXISTS"

	// ErrCodeStore indicates a store failure outside per-record isolation.
	ErrCodeStore RuntimeErrorCode = "STORE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Account != "" {
		msg += fmt.Sprintf(" (account=%s)", e.Account)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsSelfUnavailable reports whether err is a self-record failure.
func IsSelfUnavailable(err error) bool { return hasCode(err, ErrCodeSelfUnavailable) }

// IsAccountNotFound reports whether err refers to an unknown account.
func IsAccountNotFound(err error) bool { return hasCode(err, ErrCodeAccountNotFound) }

// IsWrongAccount reports whether err is a contact addressed to another
// account.
func IsWrongAccount(err error) bool { return hasCode(err, ErrCodeWrongAccount) }

// IsAccountExists reports whether err is a duplicate account announcement.
func IsAccountExists(err error) bool { return hasCode(err, ErrCodeAccountExists) }

// NewAccountNotFoundError creates a RuntimeError for an unknown account.
func NewAccountNotFoundError(ev EventType, path string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeAccountNotFound,
		Message: "event for unknown account",
		Event:   ev,
		Account: path,
	}
}

// NewAccountExistsError creates a RuntimeError for a duplicate account.
func NewAccountExistsError(path string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeAccountExists,
		Message: "account announced twice",
		Event:   EventAccountAdded,
		Account: path,
	}
}
