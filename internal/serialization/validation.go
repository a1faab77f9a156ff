package serialization

import (
	"fmt"
	"sort"
	"strings"
)

// Limits applied when decoding untrusted files.
const (
	MaxHeaderSize    = 16 * 1024 * 1024 // 16MB - maximum JSON header size
	MaxDataSize      = 4 << 30          // 4GB - maximum data section size
	MaxTensorCount   = 10_000           // Maximum number of tensors in a file
	MaxTensorNameLen = 256              // Maximum tensor name length
)

// ValidationLevel controls how much of a header is checked on read.
type ValidationLevel int

// Validation levels. Strict checks names and offsets, Normal checks names
// only.
const (
	ValidationStrict ValidationLevel = iota
	ValidationNormal
	ValidationNone
)

// ValidateTensorOffsets checks that tensor regions are non-negative, lie
// inside the data section and do not overlap.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Reason: "too_many_tensors",
			Detail: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	byOffset := append([]TensorMeta(nil), tensors...)
	sort.Slice(byOffset, func(i, j int) bool { return byOffset[i].Offset < byOffset[j].Offset })

	var prev *TensorMeta
	for i := range byOffset {
		t := &byOffset[i]
		switch {
		case t.Offset < 0 || t.Size < 0:
			return &ValidationError{
				Reason: "negative_offset",
				Tensor: t.Name,
				Detail: fmt.Sprintf("offset=%d, size=%d", t.Offset, t.Size),
			}
		case t.Offset+t.Size > dataSize:
			return &ValidationError{
				Reason: "out_of_bounds",
				Tensor: t.Name,
				Detail: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		case prev != nil && prev.Offset+prev.Size > t.Offset:
			return &ValidationError{
				Reason: "offset_overlap",
				Tensor: prev.Name,
				Other:  t.Name,
				Detail: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
					prev.Offset, prev.Offset+prev.Size, t.Offset, t.Offset+t.Size),
			}
		}
		prev = t
	}
	return nil
}

// ValidateTensorName rejects empty, oversized and path-like names.
func ValidateTensorName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Reason: "invalid_name", Detail: "empty tensor name"}
	case len(name) > MaxTensorNameLen:
		return &ValidationError{
			Reason: "name_too_long",
			Tensor: name,
			Detail: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	case strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, ".."):
		return &ValidationError{Reason: "invalid_name", Tensor: name, Detail: "contains a path separator, '..' or a null byte"}
	}
	return nil
}

// ValidateHeader performs header validation at the given level.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}

	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Reason: "too_many_tensors",
			Detail: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}

	seen := make(map[string]bool, len(h.Tensors))
	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
		if seen[t.Name] {
			return &ValidationError{Reason: "duplicate_name", Tensor: t.Name, Detail: "tensor listed twice"}
		}
		seen[t.Name] = true
	}

	if level == ValidationStrict {
		return ValidateTensorOffsets(h.Tensors, dataSize)
	}
	return nil
}
