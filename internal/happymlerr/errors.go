// Package happymlerr defines the typed error taxonomy shared across the
// tensor, nn, builder, and bpe packages.
package happymlerr

import "fmt"

type Kind string

const (
	ErrShape    Kind = "shape"
	ErrIO       Kind = "io"
	ErrConfig   Kind = "config"
	ErrCapacity Kind = "capacity"
)

// Error is the typed error returned for recoverable failures: shape/contract
// violations, missing or corrupt files, and unknown config tokens. Numeric
// errors (NaN/Inf) are deliberately never wrapped in this type; they
// propagate as plain float values per the error handling design.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]interface{}
	Wrapped error
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Kind, e.Message, e.Context)
}

func (e *Error) Unwrap() error { return e.Wrapped }

func New(kind Kind, message string, context map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Context: context}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: err}
}

func Shapef(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrShape, Message: fmt.Sprintf(format, args...)}
}

func Configf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrConfig, Message: fmt.Sprintf(format, args...)}
}
