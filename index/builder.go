package index

// Builder accepts entries in any order and produces a correctly sorted
// Index at Finish, spec.md §4.5 "Builder vs Editor": cheapest when
// populating an index from scratch (e.g. reading a tree into a fresh
// worktree), where sorting once at the end beats maintaining sort order on
// every insert.
type Builder struct {
	version uint32
	cache   *Tree
	entries []*Entry
}

// NewBuilder starts an empty version-2 builder.
func NewBuilder() *Builder {
	return &Builder{version: 2}
}

// Add stages e, replacing any existing entry at the same (Name, Stage).
// Order of Add calls does not matter.
func (b *Builder) Add(e *Entry) {
	for i, existing := range b.entries {
		if existing.Name == e.Name && existing.Stage == e.Stage {
			b.entries[i] = e
			return
		}
	}
	b.entries = append(b.entries, e)
}

// KeepCacheTree carries an existing cache-tree extension through to the
// built Index, letting WriteTree reuse still-valid subtrees instead of
// rebuilding everything from nothing. The tree is carried over as given:
// Add does not invalidate any of its subtrees.
func (b *Builder) KeepCacheTree(t *Tree) { b.cache = t }

// Finish sorts the accumulated entries by (path, stage) and returns the
// resulting Index.
func (b *Builder) Finish() *Index {
	idx := &Index{Version: b.version, Entries: b.entries, Cache: b.cache}
	idx.Sort()
	return idx
}
