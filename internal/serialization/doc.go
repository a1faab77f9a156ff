// Package serialization implements the .nsm model artifact format.
//
// An artifact holds everything needed to rebuild a trained classifier: the
// architecture metadata, every weight tensor and the batch norm running
// statistics.
//
//	Format Structure:
//	  0x00 [4 bytes: Magic "NSCN"]
//	  0x04 [4 bytes: Version (uint32 LE)]
//	  0x08 [4 bytes: Flags (uint32 LE)]
//	  0x0C [4 bytes: Reserved]
//	  0x10 [8 bytes: Header size (uint64 LE)]
//	  0x18 [8 bytes: Data size (uint64 LE)]
//	  0x20 [32 bytes: SHA-256 of the data section]
//	  0x40 [Header: JSON metadata]
//	       [Padding to a 64-byte boundary]
//	       [Tensor data: little-endian float32, tensors sorted by name]
//
// Files are written to a temporary sibling and renamed into place, so a
// reader never observes a partially written artifact.
//
// Example usage:
//
//	err := serialization.WriteFile("models/malnutrition_model.nsm", state, serialization.Header{
//	    ModelType: "Classifier",
//	    Metadata:  map[string]string{"resolution": "224"},
//	})
//
//	f, err := serialization.ReadFile("models/malnutrition_model.nsm", serialization.ReaderOptions{})
//	model.LoadStateDict(f.Tensors)
package serialization
