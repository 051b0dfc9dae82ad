package blob

import (
	"crypto/sha1"
	"hash"
)

// NewDigest returns a fresh streaming SHA-1 hasher, the algorithm used for
// every BlobKey. Callers feed it bytes incrementally as they are copied to
// a temp file or socket; the payload is never buffered wholesale just to
// be hashed.
func NewDigest() hash.Hash {
	return sha1.New()
}

// Sum finalizes h into a Key. It does not reset h.
func Sum(h hash.Hash) Key {
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}
