package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

// ReaderOptions configures artifact decoding.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level, ValidationStrict by default
}

// File is a decoded artifact.
type File struct {
	Header  Header
	Flags   uint32
	Tensors map[string]*tensor.Tensor
}

// Decode reads a complete artifact from r.
func Decode(r io.Reader, opts ReaderOptions) (*File, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("failed to read fixed header: %w", truncated(err))
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	if version := binary.LittleEndian.Uint32(fixed[4:8]); version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, FormatVersion)
	}
	flags := binary.LittleEndian.Uint32(fixed[8:12])
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	var stored Checksum
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}
	if dataSize > MaxDataSize {
		return nil, &ValidationError{Reason: "data_too_large", Detail: fmt.Sprintf("%d bytes", dataSize)}
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", truncated(err))
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize above
	padding := alignedDataOffset(int64(headerSize)) - int64(FixedHeaderSize) - int64(headerSize)
	if _, err := io.CopyN(io.Discard, r, padding); err != nil {
		return nil, fmt.Errorf("failed to read padding: %w", truncated(err))
	}
	// The buffer grows with what is actually read, so a header that
	// overstates the data size cannot force a large allocation.
	var buf bytes.Buffer
	//nolint:gosec // G115: dataSize is bounded by MaxDataSize above
	if _, err := io.CopyN(&buf, r, int64(dataSize)); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", truncated(err))
	}
	data := buf.Bytes()

	if !opts.SkipChecksumValidation {
		if err := stored.verify(data); err != nil {
			return nil, err
		}
	}
	//nolint:gosec // G115: dataSize is bounded by MaxDataSize above
	if err := ValidateHeader(&header, int64(dataSize), opts.ValidationLevel); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	tensors := make(map[string]*tensor.Tensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		t, err := decodeTensor(meta, data)
		if err != nil {
			return nil, err
		}
		tensors[meta.Name] = t
	}

	return &File{Header: header, Flags: flags, Tensors: tensors}, nil
}

func decodeTensor(meta TensorMeta, data []byte) (*tensor.Tensor, error) {
	if meta.DType != DTypeFloat32 {
		return nil, fmt.Errorf("%w: tensor %q has dtype %q", ErrUnsupportedDType, meta.Name, meta.DType)
	}
	shape := tensor.Shape(meta.Shape)
	if err := shape.Validate(); err != nil {
		return nil, &ValidationError{Reason: "invalid_shape", Tensor: meta.Name, Detail: err.Error()}
	}
	if int64(shape.NumElements())*float32Size != meta.Size {
		return nil, &ValidationError{
			Reason: "size_mismatch",
			Tensor: meta.Name,
			Detail: fmt.Sprintf("shape %v needs %d bytes, header says %d", shape, shape.NumElements()*float32Size, meta.Size),
		}
	}
	if meta.Offset < 0 || meta.Offset+meta.Size > int64(len(data)) {
		return nil, &ValidationError{Reason: "out_of_bounds", Tensor: meta.Name, Detail: "tensor extends beyond data section"}
	}

	raw := data[meta.Offset : meta.Offset+meta.Size]
	t := tensor.New(shape)
	values := t.Data()
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*float32Size:]))
	}
	return t, nil
}

// ReadFile decodes the artifact at path.
func ReadFile(path string, opts ReaderOptions) (*File, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f, opts)
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}
