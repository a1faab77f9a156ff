package serialization

import (
	"errors"
	"fmt"
)

// Errors returned while decoding a model artifact.
var (
	ErrChecksumMismatch   = errors.New("model data checksum mismatch")
	ErrInvalidMagic       = errors.New("not a nutriscan model artifact")
	ErrUnsupportedVersion = errors.New("unsupported artifact version")
	ErrHeaderTooLarge     = errors.New("artifact header too large")
	ErrTruncated          = errors.New("artifact is truncated")
	ErrUnsupportedDType   = errors.New("unsupported tensor dtype")
)

// ValidationError reports a tensor table entry that does not fit the data
// section, or a malformed tensor name.
type ValidationError struct {
	Reason string // machine-readable, e.g. "offset_overlap"
	Tensor string
	Other  string // second tensor of an overlap
	Detail string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Other != "":
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Reason, e.Tensor, e.Other, e.Detail)
	case e.Tensor != "":
		return fmt.Sprintf("%s: tensor %q: %s", e.Reason, e.Tensor, e.Detail)
	default:
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
}
