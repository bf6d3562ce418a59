// Package objid implements the 20-byte content-addressed identities used
// throughout gitcore: object ids, their hexadecimal form, and abbreviated
// (prefix) ids.
package objid

import (
	"bytes"
	"encoding/hex"
	"errors"
	"hash"
	"sort"

	"github.com/pjbgf/sha1cd"
)

// Size is the length in bytes of an ID.
const Size = 20

// HexSize is the length of an ID's hexadecimal representation.
const HexSize = Size * 2

// ID is an immutable 20-byte object identity. The zero value is the
// all-zero sentinel meaning "absent".
type ID [Size]byte

// Zero is the all-zero ID, used as a sentinel for "no object"/"no ref value".
var Zero ID

// ErrInvalidHex is returned when a string is not a well-formed 40-hex id.
var ErrInvalidHex = errors.New("objid: invalid hexadecimal id")

// NewHasher returns a hash.Hash that computes object ids the way git does:
// SHA-1 with collision detection, so loose and packed object identities
// agree with upstream git even under a SHA-1 collision attack.
func NewHasher() hash.Hash {
	return sha1cd.New()
}

// FromBytes builds an ID from a raw 20-byte slice. It panics if b is not
// exactly Size bytes long, mirroring the teacher's convention that this is
// a programmer error, not a data error (data of unknown length comes from
// FromHex or a Reader, not FromBytes).
func FromBytes(b []byte) ID {
	if len(b) != Size {
		panic("objid: FromBytes requires exactly 20 bytes")
	}
	var id ID
	copy(id[:], b)
	return id
}

// FromHex parses a 40-character hexadecimal string into an ID.
func FromHex(s string) (ID, error) {
	var id ID
	if len(s) != HexSize {
		return id, ErrInvalidHex
	}
	n, err := hex.Decode(id[:], []byte(s))
	if err != nil || n != Size {
		return ID{}, ErrInvalidHex
	}
	return id, nil
}

// MustHex is FromHex but panics on error; useful for test fixtures and
// compile-time constants.
func MustHex(s string) ID {
	id, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the 40-character lowercase hexadecimal form.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero sentinel.
func (id ID) IsZero() bool {
	return id == Zero
}

// Bytes returns the raw 20 bytes.
func (id ID) Bytes() []byte {
	return id[:]
}

// Compare returns -1, 0 or 1 comparing id to other, byte-lexicographically.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// FirstByte returns the id's first byte, used as a fan-out bucket index.
func (id ID) FirstByte() byte {
	return id[0]
}

// Sort sorts ids in increasing byte-lexicographic order.
func Sort(ids []ID) {
	sort.Sort(Slice(ids))
}

// Slice attaches sort.Interface to []ID, sorting in increasing order.
type Slice []ID

func (s Slice) Len() int           { return len(s) }
func (s Slice) Less(i, j int) bool { return s[i].Less(s[j]) }
func (s Slice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
