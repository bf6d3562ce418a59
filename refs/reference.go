// Package refs implements the RefDatabase described in spec.md §4.6 (C6):
// an immutable, compare-and-swap snapshot of every loose and packed
// reference, short-name resolution, depth-limited symbolic-ref following,
// and lockfile-protected updates with git's NEW/NO_CHANGE/FAST_FORWARD/
// FORCED/REJECTED/LOCK_FAILURE classification.
package refs

import (
	"fmt"
	"strings"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/objid"
)

// Kind distinguishes a direct (hash) reference from a symbolic one.
type Kind int8

const (
	InvalidKind Kind = iota
	HashKind
	SymbolicKind
)

// Name is a fully- or partially-qualified reference name, e.g. "HEAD",
// "main", or "refs/heads/main".
type Name string

const HEAD Name = "HEAD"

const (
	refsPrefix    = "refs/"
	tagsPrefix    = refsPrefix + "tags/"
	headsPrefix   = refsPrefix + "heads/"
	remotesPrefix = refsPrefix + "remotes/"
	symrefPrefix  = "ref: "
)

// SearchPath is the prefix order get_ref tries to resolve a short name
// against, spec.md §4.6.
var SearchPath = []string{"", refsPrefix, tagsPrefix, headsPrefix, remotesPrefix}

func (n Name) IsBranch() bool { return strings.HasPrefix(string(n), headsPrefix) }
func (n Name) IsTag() bool    { return strings.HasPrefix(string(n), tagsPrefix) }
func (n Name) IsRemote() bool { return strings.HasPrefix(string(n), remotesPrefix) }

// Reference is one entry in the ref namespace: either a direct pointer at
// an object id, or a symbolic pointer at another reference name.
type Reference struct {
	kind   Kind
	name   Name
	id     objid.ID
	target Name
}

func NewHashReference(name Name, id objid.ID) *Reference {
	return &Reference{kind: HashKind, name: name, id: id}
}

func NewSymbolicReference(name, target Name) *Reference {
	return &Reference{kind: SymbolicKind, name: name, target: target}
}

func (r *Reference) Kind() Kind     { return r.kind }
func (r *Reference) Name() Name     { return r.name }
func (r *Reference) ID() objid.ID   { return r.id }
func (r *Reference) Target() Name   { return r.target }
func (r *Reference) IsHash() bool   { return r.kind == HashKind }
func (r *Reference) IsSymbol() bool { return r.kind == SymbolicKind }

// String renders the reference the way it's stored on disk: "<40-hex>\n"
// for a hash reference, "ref: <target>\n" for a symbolic one.
func (r *Reference) String() string {
	if r.kind == SymbolicKind {
		return fmt.Sprintf("%s%s\n", symrefPrefix, r.target)
	}
	return r.id.String() + "\n"
}

// parseReference parses the body of a loose ref file (or a packed-refs
// value field) for name.
func parseReference(name Name, content string) (*Reference, error) {
	content = strings.TrimRight(content, "\n")
	if strings.HasPrefix(content, symrefPrefix) {
		return NewSymbolicReference(name, Name(strings.TrimSpace(content[len(symrefPrefix):]))), nil
	}

	id, err := objid.FromHex(strings.TrimSpace(content))
	if err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, fmt.Sprintf("refs: malformed reference body for %s", name))
	}
	return NewHashReference(name, id), nil
}
