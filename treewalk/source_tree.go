package treewalk

import (
	"bytes"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
)

// ObjectLoader is the subset of odb.Store a TreeLevel needs: resolving an
// id to its stored bytes, regardless of whether it currently lives loose
// or packed.
type ObjectLoader interface {
	Get(id objid.ID) (object.Type, []byte, error)
}

// TreeLevel adapts one level of a tree object (spec.md §3 "Tree") to
// Level, loading child trees lazily through loader as the walk descends —
// the same lazy-subtree-load shape as the teacher's TreeWalker.Next,
// which calls r.Tree(entry.Hash) only once it actually needs to recurse.
type TreeLevel struct {
	loader  ObjectLoader
	entries []object.Entry
	pos     int
}

// NewTreeLevel starts a Level at the root of the tree identified by id.
// A zero id (objid.Zero) yields an empty level, matching "subtree
// iterator... for trees that lack the path" for a source that has none.
func NewTreeLevel(loader ObjectLoader, id objid.ID) (*TreeLevel, error) {
	if id.IsZero() {
		return &TreeLevel{}, nil
	}
	t, err := loadTree(loader, id)
	if err != nil {
		return nil, err
	}
	return &TreeLevel{loader: loader, entries: t.Entries}, nil
}

func loadTree(loader ObjectLoader, id objid.ID) (*object.Tree, error) {
	typ, data, err := loader.Get(id)
	if err != nil {
		return nil, gitkind.Wrap(gitkind.NotFound, err, "treewalk: loading tree "+id.String())
	}
	if typ != object.TreeType {
		return nil, gitkind.Newf(gitkind.Corrupt, "treewalk: %s is not a tree", id.String())
	}
	t := &object.Tree{}
	if err := t.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return t, nil
}

func (l *TreeLevel) Peek() (string, bool) {
	if l.pos >= len(l.entries) {
		return "", false
	}
	return l.entries[l.pos].Name, true
}

func (l *TreeLevel) Current() *Entry {
	if l.pos >= len(l.entries) {
		return nil
	}
	e := l.entries[l.pos]
	return &Entry{Mode: e.Mode, ID: e.ID}
}

func (l *TreeLevel) Advance() error {
	if l.pos < len(l.entries) {
		l.pos++
	}
	return nil
}

func (l *TreeLevel) Enter() (Level, error) {
	if l.pos >= len(l.entries) {
		return emptyLevel{}, nil
	}
	e := l.entries[l.pos]
	if !isDirMode(e.Mode) {
		return emptyLevel{}, nil
	}
	return NewTreeLevel(l.loader, e.ID)
}
