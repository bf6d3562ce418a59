package treewalk

import (
	"sort"
	"strings"

	"github.com/git-core/gitcore/index"
	"github.com/git-core/gitcore/object/filemode"
)

// IndexLevel adapts one directory level of a DirCache (spec.md §4.5, C5)
// to Level. The index stores full paths rather than a hierarchy, so each
// level is synthesized on construction by scanning for entries under
// prefix and collapsing anything past the next '/' into one directory
// child — the same flattened-to-hierarchy adaptation
// index.(*Index).WriteTree already does when building tree objects from
// the cache (index/cachetree.go's buildDirTree), reused here for reading
// instead of writing.
//
// Only Merged-stage entries are considered: a path with unresolved
// conflict stages has no single (mode, id) to present as "the index's
// current entry" at that path, matching how checkout and status treat it
// (spec.md §4.10's H/I/M table assumes a single Index entry per path).
type IndexLevel struct {
	idx      *index.Index
	prefix   string
	children []indexChild
	pos      int
}

type indexChild struct {
	name  string
	isDir bool
	entry *index.Entry
}

// NewIndexLevel starts a Level at the root of idx.
func NewIndexLevel(idx *index.Index) *IndexLevel {
	return newIndexLevelAt(idx, "")
}

func newIndexLevelAt(idx *index.Index, prefix string) *IndexLevel {
	lo := sort.Search(len(idx.Entries), func(i int) bool { return idx.Entries[i].Name >= prefix })

	var children []indexChild
	seenDir := map[string]bool{}
	for i := lo; i < len(idx.Entries); i++ {
		e := idx.Entries[i]
		if !strings.HasPrefix(e.Name, prefix) {
			break
		}
		if e.Stage != index.Merged {
			continue
		}
		rest := e.Name[len(prefix):]
		if rest == "" {
			continue
		}
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			dir := rest[:slash]
			if !seenDir[dir] {
				seenDir[dir] = true
				children = append(children, indexChild{name: dir, isDir: true})
			}
			continue
		}
		children = append(children, indexChild{name: rest, entry: e})
	}

	sort.Slice(children, func(i, j int) bool { return children[i].name < children[j].name })
	return &IndexLevel{idx: idx, prefix: prefix, children: children}
}

func (l *IndexLevel) Peek() (string, bool) {
	if l.pos >= len(l.children) {
		return "", false
	}
	return l.children[l.pos].name, true
}

func (l *IndexLevel) Current() *Entry {
	if l.pos >= len(l.children) {
		return nil
	}
	c := l.children[l.pos]
	if c.isDir {
		return &Entry{Mode: filemode.Dir}
	}
	return &Entry{Mode: c.entry.Mode, ID: c.entry.ID}
}

func (l *IndexLevel) Advance() error {
	if l.pos < len(l.children) {
		l.pos++
	}
	return nil
}

func (l *IndexLevel) Enter() (Level, error) {
	if l.pos >= len(l.children) || !l.children[l.pos].isDir {
		return emptyLevel{}, nil
	}
	return newIndexLevelAt(l.idx, l.prefix+l.children[l.pos].name+"/"), nil
}
