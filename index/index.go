// Package index implements the DirCache described in spec.md §4.5 (C5): the
// staging area format git calls "the index" — a sorted array of entries
// keyed by (path, stage), an optional cache-tree accelerator, and the
// racy-clean smudge protocol that lets a writer avoid re-stat-ing every file
// on every status check.
package index

import (
	"sort"
	"time"

	"github.com/git-core/gitcore/object/filemode"
	"github.com/git-core/gitcore/objid"
)

// Stage identifies which side of an unresolved merge an entry belongs to.
// spec.md §4.5 fixes this at stage∈{0,1,2,3} with 0 meaning "merged"; the
// teacher's own format aliases merged onto 1 (its AncestorMode/OurMode/
// TheirMode are 1/2/3). spec.md is the authoritative contract here, so
// Merged is 0 and the other three keep 1/2/3; decision recorded in
// DESIGN.md.
type Stage uint8

const (
	Merged Stage = iota
	AncestorStage
	OurStage
	TheirStage
)

// Entry is one staged path. A path with an unresolved conflict appears up
// to three times, once per non-merged Stage; a resolved path appears
// exactly once, at Merged.
type Entry struct {
	Name string
	ID   objid.ID
	Mode filemode.FileMode
	Stage

	Size       uint32
	CreatedAt  time.Time
	ModifiedAt time.Time
	Dev, Inode uint32
	UID, GID   uint32

	AssumeValid  bool
	IntentToAdd  bool
	SkipWorktree bool
}

// Smudged reports whether the racy-clean protocol (spec.md §4.5) zeroed
// this entry's recorded size because it was written in the same
// filesystem-timestamp tick as the index flush that recorded it. A
// genuinely empty file is indistinguishable from a smudged one by this bit
// alone — both read Size()==0 — which is exactly the ambiguity the
// protocol's read-side reclassification step (ReclassifySmudged) exists to
// resolve by falling back to a content-hash comparison.
func (e *Entry) Smudged() bool {
	return e.Size == 0
}

// Index is the in-memory DirCache: entries sorted by (Name, Stage), plus
// the optional cache-tree extension.
type Index struct {
	Version uint32
	Entries []*Entry
	Cache   *Tree
}

// New returns an empty version-2 index.
func New() *Index {
	return &Index{Version: 2}
}

// Less orders two entries the way the on-disk format requires: by name,
// then by stage, matching spec.md §4.5 "(path, stage)".
func Less(a, b *Entry) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Stage < b.Stage
}

// Sort orders Entries in place per Less. Both Builder.Finish and Encode
// call this; it is exported so tests and callers assembling an Index by
// hand can restore the invariant too.
func (idx *Index) Sort() {
	sort.Slice(idx.Entries, func(i, j int) bool { return Less(idx.Entries[i], idx.Entries[j]) })
}

// find returns the index into idx.Entries of (name, stage), and whether it
// was found. idx.Entries must already be sorted.
func (idx *Index) find(name string, stage Stage) (int, bool) {
	i := sort.Search(len(idx.Entries), func(i int) bool {
		e := idx.Entries[i]
		if e.Name != name {
			return e.Name >= name
		}
		return e.Stage >= stage
	})
	if i < len(idx.Entries) && idx.Entries[i].Name == name && idx.Entries[i].Stage == stage {
		return i, true
	}
	return i, false
}

// Entry returns the entry at (name, stage), if present.
func (idx *Index) Entry(name string, stage Stage) (*Entry, bool) {
	i, ok := idx.find(name, stage)
	if !ok {
		return nil, false
	}
	return idx.Entries[i], true
}

// Conflicted returns every non-merged-stage entry for name, in stage order.
// An empty result means name is either absent or resolved (Merged only).
func (idx *Index) Conflicted(name string) []*Entry {
	var out []*Entry
	for _, s := range []Stage{AncestorStage, OurStage, TheirStage} {
		if e, ok := idx.Entry(name, s); ok {
			out = append(out, e)
		}
	}
	return out
}

// HasUnmergedEntries reports whether any path still carries a non-Merged
// stage entry — writing a tree from such an index is the gitkind.Unmerged
// case spec.md §7 calls out.
func (idx *Index) HasUnmergedEntries() bool {
	for _, e := range idx.Entries {
		if e.Stage != Merged {
			return true
		}
	}
	return false
}
