// Package object implements the canonical parse/build codecs for the four
// git object kinds (blob, tree, commit, tag) described in spec.md §3/§4.8.
package object

import "github.com/git-core/gitcore/internal/gitkind"

// Type identifies one of the four object kinds, plus the two pack-only
// delta encodings used while an object is still deltified inside a pack.
type Type int8

const (
	InvalidType Type = 0
	CommitType  Type = 1
	TreeType    Type = 2
	BlobType    Type = 3
	TagType     Type = 4
	OFSDeltaType Type = 6
	REFDeltaType Type = 7
	AnyType     Type = -127
)

func (t Type) String() string {
	switch t {
	case CommitType:
		return "commit"
	case TreeType:
		return "tree"
	case BlobType:
		return "blob"
	case TagType:
		return "tag"
	case OFSDeltaType:
		return "ofs-delta"
	case REFDeltaType:
		return "ref-delta"
	case AnyType:
		return "any"
	default:
		return "unknown"
	}
}

// Bytes returns the byte representation used in loose-object headers and
// pack type negotiation.
func (t Type) Bytes() []byte { return []byte(t.String()) }

// Valid reports whether t is one of the four base object kinds or a pack
// delta encoding.
func (t Type) Valid() bool { return (t >= CommitType && t <= TagType) || t.IsDelta() }

// IsDelta reports whether t is a pack-only delta encoding.
func (t Type) IsDelta() bool { return t == OFSDeltaType || t == REFDeltaType }

// ParseType parses the textual type used in loose object headers
// ("commit", "tree", "blob", "tag") and pack type names.
func ParseType(s string) (Type, error) {
	switch s {
	case "commit":
		return CommitType, nil
	case "tree":
		return TreeType, nil
	case "blob":
		return BlobType, nil
	case "tag":
		return TagType, nil
	case "ofs-delta":
		return OFSDeltaType, nil
	case "ref-delta":
		return REFDeltaType, nil
	default:
		return InvalidType, gitkind.Newf(gitkind.Corrupt, "object: invalid type %q", s)
	}
}
