package core

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the width in bytes of a bucket content hash (SHA-256).
const HashSize = 32

// BucketHash identifies a bucket by the SHA-256 of its canonical
// encoding. The all-zero value is reserved for the empty bucket and is
// never stored or looked up.
type BucketHash [HashSize]byte

// ZeroHash is the reserved hash of the canonical empty bucket.
var ZeroHash BucketHash

// HashFromHex decodes a hex string into a BucketHash.
func HashFromHex(s string) (BucketHash, error) {
	var h BucketHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid bucket hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid bucket hash %q: got %d bytes, want %d", s, len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// Hex returns the lowercase hex representation of the hash.
func (h BucketHash) Hex() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the reserved empty-bucket hash.
func (h BucketHash) IsZero() bool {
	return h == ZeroHash
}

func (h BucketHash) String() string {
	return h.Hex()
}
