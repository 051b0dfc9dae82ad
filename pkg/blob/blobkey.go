package blob

import (
	"bytes"
	"encoding/hex"
	"io"
)

// KeySize is the fixed length of a BlobKey in bytes.
const KeySize = 20

// Key is the content-addressable identifier of a BLOB: the SHA-1 digest
// of its bytes.
type Key [KeySize]byte

// ZeroKey is the all-zero key, used to represent "no key chosen yet".
// A Get against ZeroKey is expected to fail with KindNotFound.
var ZeroKey Key

// NewKey constructs a Key from exactly KeySize bytes.
func NewKey(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, E(KindInvalidKeySize, "NewKey")
	}
	copy(k[:], b)
	return k, nil
}

// IsZero reports whether k is the all-zero key.
func (k Key) IsZero() bool {
	return k == ZeroKey
}

// Hex renders k as 40 lowercase hex characters.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.Hex()
}

// Compare orders keys by unsigned lexicographic comparison of their bytes,
// matching the original Java BlobKey.compareTo semantics.
func (k Key) Compare(o Key) int {
	return bytes.Compare(k[:], o[:])
}

// WriteTo writes the 20 raw key bytes to w.
func (k Key) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(k[:])
	return int64(n), err
}

// ReadKey reads exactly KeySize bytes from r, failing with KindUnexpectedEOF
// if the stream ends early.
func ReadKey(r io.Reader) (Key, error) {
	var k Key
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return Key{}, Wrap(KindUnexpectedEOF, "ReadKey", err)
	}
	return k, nil
}

// KeyFromHex parses a 40-character lowercase hex string into a Key.
func KeyFromHex(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, Wrap(KindInvalidKeySize, "KeyFromHex", err)
	}
	return NewKey(b)
}
