package fhircodegen

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrParser reports a structurally invalid StructureDefinition.
	ErrParser = errors.New("parser error")
	// ErrKindMismatch reports a conversion requested for the wrong kind.
	ErrKindMismatch = errors.New("kind mismatch")
	// ErrCanonicalManager reports a failure of the package manager.
	ErrCanonicalManager = errors.New("canonical manager error")
	// ErrNotFound reports a canonical URL or resource that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateType reports a type name registered in two graph maps.
	ErrDuplicateType = errors.New("duplicate type")
	// ErrConfig reports invalid configuration.
	ErrConfig = errors.New("configuration error")
	// ErrValidation reports an invalid value in an otherwise parseable document.
	ErrValidation = errors.New("validation error")
)

// Error carries an error kind, a message and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

// NewError returns an *Error of the given kind.
func NewError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
