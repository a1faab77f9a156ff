package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

// Producer is recorded in every header this package writes.
const Producer = "nutriscan"

// Encode writes state as a complete artifact to w.
//
// Tensors are laid out in name order, so the same state always encodes to
// the same data section. Header fields Tensors and FormatVersion are filled
// in here; CreatedAt defaults to now.
func Encode(w io.Writer, state map[string]*tensor.Tensor, header Header) error {
	names := make([]string, 0, len(state))
	for name := range state {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header.FormatVersion = FormatVersion
	if header.Producer == "" {
		header.Producer = Producer
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	// Tensor data and offsets.
	var data bytes.Buffer
	header.Tensors = make([]TensorMeta, 0, len(names))
	for _, name := range names {
		t := state[name]
		offset := int64(data.Len())
		buf := make([]byte, float32Size*t.NumElements())
		for i, v := range t.Data() {
			binary.LittleEndian.PutUint32(buf[i*float32Size:], math.Float32bits(v))
		}
		data.Write(buf)
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  DTypeFloat32,
			Shape:  append([]int(nil), t.Shape()...),
			Offset: offset,
			Size:   int64(len(buf)),
		})
	}
	checksum := checksumOf(data.Bytes())

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], headerFlags(header))
	// 0x0C-0x0F reserved
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(data.Len()))
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	padding := alignedDataOffset(int64(len(headerJSON))) - int64(FixedHeaderSize+len(headerJSON))

	for _, chunk := range [][]byte{fixed, headerJSON, make([]byte, padding), data.Bytes()} {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("failed to write artifact: %w", err)
		}
	}
	return nil
}

func headerFlags(h Header) uint32 {
	var flags uint32
	if len(h.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if h.Checkpoint != nil {
		flags |= FlagHasCheckpoint
	}
	return flags
}

// WriteFile encodes state to path atomically.
//
// The artifact is written to a temporary file in the same directory, synced
// and renamed over path. Missing parent directories are created.
func WriteFile(path string, state map[string]*tensor.Tensor, header Header) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = Encode(tmp, state, header); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
