package serialization

import (
	"time"
)

// Format constants.
const (
	MagicBytes      = "NSCN"
	FileExtension   = ".nsm"
	FormatVersion   = 1
	FixedHeaderSize = 64   // 0x40 bytes
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header
	ChecksumSize    = 32   // SHA-256 checksum size
	DataAlignment   = 64   // Tensor data starts on a 64-byte boundary
	DTypeFloat32    = "float32"
	float32Size     = 4
)

// Flags.
const (
	FlagHasMetadata   uint32 = 1 << 0 // custom metadata included
	FlagHasCheckpoint uint32 = 1 << 1 // written by the trainer's checkpoint policy
)

// Header represents the JSON header of an artifact.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Producer      string            `json:"producer"`             // Program and version that wrote the file
	ModelType     string            `json:"model_type"`           // e.g. "Classifier"
	CreatedAt     time.Time         `json:"created_at"`           // When the file was created
	Tensors       []TensorMeta      `json:"tensors"`              // Tensor metadata, sorted by name
	Metadata      map[string]string `json:"metadata"`             // Architecture and custom metadata
	Checkpoint    *CheckpointMeta   `json:"checkpoint,omitempty"` // Set when written mid-training
}

// CheckpointMeta records the training state at which a checkpoint was taken.
type CheckpointMeta struct {
	RunID        string  `json:"run_id"`
	Epoch        int     `json:"epoch"`
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	LearningRate float64 `json:"learning_rate"`
	Optimizer    string  `json:"optimizer"`
}

// TensorMeta describes a tensor in the data section.
type TensorMeta struct {
	Name   string `json:"name"`   // Tensor name (e.g., "conv2d.weight")
	DType  string `json:"dtype"`  // Always "float32"
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Offset in the data section
	Size   int64  `json:"size"`   // Size in bytes
}

func alignedDataOffset(headerSize int64) int64 {
	pos := int64(FixedHeaderSize) + headerSize
	return pos + (DataAlignment-pos%DataAlignment)%DataAlignment
}
