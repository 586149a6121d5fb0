package provider

import (
	"errors"
	"fmt"
)

// ErrNotInitialized indicates the provider id was never successfully initialized.
var ErrNotInitialized = errors.New("provider not initialized")

// ErrNoActiveProvider indicates no provider has been made active.
var ErrNoActiveProvider = errors.New("no active provider")

// ErrNoFactory indicates no factory is registered for the provider id.
var ErrNoFactory = errors.New("no factory registered")

// ErrUnknownModel indicates the requested model is not in the provider catalog.
var ErrUnknownModel = errors.New("unknown model")

// ErrMissingCredentials indicates the provider config carries no API key.
var ErrMissingCredentials = errors.New("missing credentials")

// Error is a transport or protocol failure tagged with the provider that
// produced it.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with the provider id and operation. It returns nil for a nil
// error and leaves an existing *Error untouched.
func Wrap(providerID, op string, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	return &Error{Provider: providerID, Op: op, Err: err}
}

// IsContractViolation reports whether err is a programming-contract
// violation rather than a runtime failure.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrNoActiveProvider) ||
		errors.Is(err, ErrNoFactory) ||
		errors.Is(err, ErrUnknownModel)
}
