package serialization

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Checksum is the SHA-256 digest of an artifact's tensor data section.
type Checksum [ChecksumSize]byte

func checksumOf(data []byte) Checksum {
	return sha256.Sum256(data)
}

// verify recomputes the digest of data and compares it with c.
func (c Checksum) verify(data []byte) error {
	if got := checksumOf(data); got != c {
		return fmt.Errorf("%w: stored %s, computed %s", ErrChecksumMismatch, c.short(), got.short())
	}
	return nil
}

func (c Checksum) short() string {
	return hex.EncodeToString(c[:6])
}
