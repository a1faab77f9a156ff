// Package fault classifies failures surfaced by the nutriscan core.
//
// Every error that leaves the model, preprocessing, training or saliency packages is
// wrapped in an *Error carrying a Kind, so callers can react differently:
//   - KindIO: missing or unreadable image, model artifact or dataset directory
//   - KindShape: image that fails to decode, or a tensor whose shape does not match the model
//   - KindNumeric: non-finite loss or gradients
//   - KindResource: temporary file or output write failures
package fault

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that were never classified.
	KindUnknown Kind = iota
	KindIO
	KindShape
	KindNumeric
	KindResource
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindShape:
		return "shape"
	case KindNumeric:
		return "numeric"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind   // Failure category
	Op   string // Operation that failed (e.g. "imageio.Load")
	Path string // File or directory involved, if any
	Err  error  // Underlying cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s (%s)", msg, e.Kind)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath wraps err with a kind, operation name and the path involved.
func WithPath(kind Kind, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// IO wraps an I/O failure.
func IO(op, path string, err error) error {
	return WithPath(KindIO, op, path, err)
}

// Shape wraps a shape or format failure.
func Shape(op string, err error) error {
	return New(KindShape, op, err)
}

// Numeric wraps a numeric failure.
func Numeric(op string, err error) error {
	return New(KindNumeric, op, err)
}

// Resource wraps a resource failure.
func Resource(op, path string, err error) error {
	return WithPath(KindResource, op, path, err)
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err was classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
