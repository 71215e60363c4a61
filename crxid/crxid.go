// Package crxid derives package identifiers from public keys.
//
// An identifier is the first 16 bytes of the SHA-256 digest of a DER encoded
// SubjectPublicKeyInfo. Its textual form renders every nibble as a letter in
// the range a-p, which is how browsers display extension IDs.
package crxid

import (
	"crypto/sha256"
	"fmt"
)

// Size is the length of an identifier in bytes.
const Size = 16

// EncodedSize is the length of the textual form of an identifier.
const EncodedSize = 2 * Size

// ID is a package identifier.
type ID [Size]byte

// FromPublicKey derives the identifier for a DER encoded public key.
func FromPublicKey(der []byte) ID {
	sum := sha256.Sum256(der)
	var id ID
	copy(id[:], sum[:Size])
	return id
}

// Encode renders id using the a-p alphabet: each hex digit n becomes 'a'+n.
func Encode(id ID) string {
	buf := make([]byte, EncodedSize)
	for i, b := range id {
		buf[2*i] = 'a' + b>>4
		buf[2*i+1] = 'a' + b&0x0f
	}
	return string(buf)
}

// Parse decodes the textual form produced by Encode.
func Parse(str string) (ID, error) {
	var id ID
	if len(str) != EncodedSize {
		return id, fmt.Errorf("expected %d characters instead got %d", EncodedSize, len(str))
	}
	for i := 0; i < EncodedSize; i++ {
		c := str[i]
		if c < 'a' || c > 'p' {
			return id, fmt.Errorf("invalid character %q at offset %d", c, i)
		}
		id[i/2] |= (c - 'a') << (4 * (1 - i%2))
	}
	return id, nil
}

func (id ID) String() string {
	return Encode(id)
}

func (id ID) Bytes() []byte {
	return id[:]
}
