package ksm

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Digest is a 64-bit page content hash.
type Digest uint64

// hashPage returns the digest of a page: the first 8 bytes of its BLAKE3
// sum. Identical pages always hash alike; collisions are not detected.
func hashPage(page []byte) Digest {
	sum := blake3.Sum256(page)
	return Digest(binary.LittleEndian.Uint64(sum[:8]))
}
