package serialization

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutriscan/nutriscan/internal/tensor"
)

func testState(t *testing.T) map[string]*tensor.Tensor {
	t.Helper()
	w, err := tensor.FromSlice([]float32{1.5, -2, 3.25, 0, 1e-8, -7}, tensor.Shape{2, 3})
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float32{0.1, 0.2}, tensor.Shape{2})
	require.NoError(t, err)
	return map[string]*tensor.Tensor{
		"dense.weight": w,
		"dense.bias":   b,
	}
}

func encode(t *testing.T, state map[string]*tensor.Tensor, h Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, state, h))
	return buf.Bytes()
}

// TestRoundTrip verifies that every value survives bit-exactly.
func TestRoundTrip(t *testing.T) {
	state := testState(t)
	raw := encode(t, state, Header{
		ModelType: "Classifier",
		Metadata:  map[string]string{"resolution": "32"},
	})

	f, err := Decode(bytes.NewReader(raw), ReaderOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Classifier", f.Header.ModelType)
	assert.Equal(t, Producer, f.Header.Producer)
	assert.Equal(t, "32", f.Header.Metadata["resolution"])
	assert.Equal(t, FlagHasMetadata, f.Flags)
	require.Len(t, f.Tensors, 2)
	for name, want := range state {
		got := f.Tensors[name]
		require.NotNil(t, got, name)
		assert.True(t, got.Shape().Equal(want.Shape()), name)
		assert.Equal(t, want.Data(), got.Data(), name)
	}
}

// TestLayout verifies the fixed header, name ordering and data alignment.
func TestLayout(t *testing.T) {
	raw := encode(t, testState(t), Header{})

	assert.Equal(t, MagicBytes, string(raw[:4]))

	f, err := Decode(bytes.NewReader(raw), ReaderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "dense.bias", f.Header.Tensors[0].Name)
	assert.Equal(t, "dense.weight", f.Header.Tensors[1].Name)
	assert.Equal(t, int64(8), f.Header.Tensors[1].Offset)

	dataSize := int64(8 + 24)
	assert.Zero(t, (int64(len(raw))-dataSize)%DataAlignment, "data section must start 64-byte aligned")
}

func TestDeterministicData(t *testing.T) {
	state := testState(t)
	a := encode(t, state, Header{})
	b := encode(t, state, Header{})

	// Headers carry a timestamp; the checksum covers data only.
	assert.Equal(t, a[ChecksumOffset:FixedHeaderSize], b[ChecksumOffset:FixedHeaderSize])
}

// TestCorruptionDetection verifies that a flipped data byte is caught.
func TestCorruptionDetection(t *testing.T) {
	raw := encode(t, testState(t), Header{})
	raw[len(raw)-1] ^= 0xFF

	_, err := Decode(bytes.NewReader(raw), ReaderOptions{})
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = Decode(bytes.NewReader(raw), ReaderOptions{SkipChecksumValidation: true})
	assert.NoError(t, err)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	raw := encode(t, testState(t), Header{})

	bad := append([]byte(nil), raw...)
	copy(bad, "XXXX")
	_, err := Decode(bytes.NewReader(bad), ReaderOptions{})
	assert.ErrorIs(t, err, ErrInvalidMagic)

	bad = append([]byte(nil), raw...)
	bad[4] = 9
	_, err = Decode(bytes.NewReader(bad), ReaderOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Decode(bytes.NewReader(raw[:len(raw)-3]), ReaderOptions{})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode(bytes.NewReader(raw[:10]), ReaderOptions{})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestEncodeRejectsBadNames(t *testing.T) {
	state := map[string]*tensor.Tensor{"../escape": tensor.Ones(tensor.Shape{1})}
	err := Encode(&bytes.Buffer{}, state, Header{})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "invalid_name", verr.Reason)
}

// TestWriteFile_Atomic verifies that WriteFile leaves only the final file behind.
func TestWriteFile_Atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models", "model"+FileExtension)

	require.NoError(t, WriteFile(path, testState(t), Header{Checkpoint: &CheckpointMeta{Epoch: 3, ValLoss: 0.4}}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model"+FileExtension, entries[0].Name())

	f, err := ReadFile(path, ReaderOptions{})
	require.NoError(t, err)
	require.NotNil(t, f.Header.Checkpoint)
	assert.Equal(t, 3, f.Header.Checkpoint.Epoch)
	assert.Equal(t, FlagHasCheckpoint, f.Flags&FlagHasCheckpoint)

	// Overwrite in place.
	state := testState(t)
	state["dense.bias"].Data()[0] = 9
	require.NoError(t, WriteFile(path, state, Header{}))
	f, err = ReadFile(path, ReaderOptions{})
	require.NoError(t, err)
	assert.Equal(t, float32(9), f.Tensors["dense.bias"].Data()[0])

	_, err = ReadFile(filepath.Join(dir, "missing.nsm"), ReaderOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecode_OverstatedDataSize(t *testing.T) {
	raw := encode(t, testState(t), Header{})
	binary.LittleEndian.PutUint64(raw[24:32], MaxDataSize)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := Decode(bytes.NewReader(raw), ReaderOptions{})
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, ErrTruncated)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20))
}

func TestChecksum(t *testing.T) {
	sum := checksumOf([]byte("abc"))
	assert.NoError(t, sum.verify([]byte("abc")))

	err := sum.verify([]byte("abd"))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Contains(t, err.Error(), sum.short())
}
