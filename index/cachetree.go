package index

import (
	"bytes"
	"sort"
	"strings"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/object/filemode"
	"github.com/git-core/gitcore/objid"
)

// TreeEntry is one node of the cache-tree extension, spec.md §4.5
// "Cache-tree": the tree object id for the directory at Path, the number of
// index entries it spans (its own files plus everything under its
// subtrees), and how many of those immediate children are themselves
// subtrees. Count is -1 for an invalidated node, meaning it and everything
// under it must be rebuilt by the next WriteTree.
type TreeEntry struct {
	Path     string
	Count    int
	Subtrees int
	ID       objid.ID
}

func (e *TreeEntry) valid() bool { return e.Count >= 0 }

// Tree is the cache-tree extension: one TreeEntry per directory that has
// ever been written, keyed by its path ("" for the repository root).
type Tree struct {
	Entries []TreeEntry
}

func (t *Tree) indexOf(path string) (int, bool) {
	for i := range t.Entries {
		if t.Entries[i].Path == path {
			return i, true
		}
	}
	return -1, false
}

func (t *Tree) set(e TreeEntry) {
	if i, ok := t.indexOf(e.Path); ok {
		t.Entries[i] = e
		return
	}
	t.Entries = append(t.Entries, e)
}

// Invalidate marks path and every ancestor directory of path as invalid, so
// the next WriteTree rebuilds the whole chain instead of trusting a stale
// cached id. Editor.Finish calls this for every path it changes; Builder
// does not call it.
func (t *Tree) Invalidate(path string) {
	for {
		if i, ok := t.indexOf(path); ok {
			t.Entries[i].Count = -1
		} else {
			t.Entries = append(t.Entries, TreeEntry{Path: path, Count: -1})
		}
		if path == "" {
			return
		}
		if slash := strings.LastIndexByte(path, '/'); slash >= 0 {
			path = path[:slash]
		} else {
			path = ""
		}
	}
}

// Putter is the write side of an object store: WriteTree needs only this,
// not the whole odb.Store surface.
type Putter interface {
	Put(t object.Type, data []byte) (objid.ID, error)
}

type dirNode struct {
	files map[string]*Entry
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: map[string]*Entry{}, dirs: map[string]*dirNode{}}
}

func buildDirTree(entries []*Entry) *dirNode {
	root := newDirNode()
	for _, e := range entries {
		parts := strings.Split(e.Name, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			child, ok := node.dirs[dir]
			if !ok {
				child = newDirNode()
				node.dirs[dir] = child
			}
			node = child
		}
		node.files[parts[len(parts)-1]] = e
	}
	return root
}

// WriteTree materialises the index's Merged-stage entries as a tree object
// graph, reusing any cache-tree subtree still marked valid instead of
// recomputing it, and writes the newly built subtrees deepest-first so
// parents can reference their already-written children (spec.md §4.5
// "writeTree"). Writing a tree from an index carrying unresolved conflicts
// is the gitkind.Unmerged case from spec.md §7.
func (idx *Index) WriteTree(put Putter) (objid.ID, error) {
	if idx.HasUnmergedEntries() {
		return objid.Zero, gitkind.New(gitkind.Unmerged, "index: cannot write tree while entries are unmerged")
	}
	if idx.Cache == nil {
		idx.Cache = &Tree{}
	}

	root := buildDirTree(idx.Entries)
	id, _, err := idx.writeDir("", root, put)
	return id, err
}

func (idx *Index) writeDir(path string, node *dirNode, put Putter) (objid.ID, int, error) {
	if i, ok := idx.Cache.indexOf(path); ok && idx.Cache.Entries[i].valid() {
		te := idx.Cache.Entries[i]
		return te.ID, te.Count, nil
	}

	var entries []object.Entry
	span := 0
	subtrees := 0

	dirNames := make([]string, 0, len(node.dirs))
	for name := range node.dirs {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)
	for _, name := range dirNames {
		childPath := name
		if path != "" {
			childPath = path + "/" + name
		}
		id, childSpan, err := idx.writeDir(childPath, node.dirs[name], put)
		if err != nil {
			return objid.Zero, 0, err
		}
		entries = append(entries, object.Entry{Name: name, Mode: filemode.Dir, ID: id})
		span += childSpan
		subtrees++
	}

	fileNames := make([]string, 0, len(node.files))
	for name := range node.files {
		fileNames = append(fileNames, name)
	}
	sort.Strings(fileNames)
	for _, name := range fileNames {
		e := node.files[name]
		entries = append(entries, object.Entry{Name: name, Mode: e.Mode, ID: e.ID})
		span++
	}

	t := &object.Tree{Entries: entries}
	t.Sort()

	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return objid.Zero, 0, err
	}

	id, err := put.Put(object.TreeType, buf.Bytes())
	if err != nil {
		return objid.Zero, 0, err
	}

	idx.Cache.set(TreeEntry{Path: path, Count: span, Subtrees: subtrees, ID: id})
	return id, span, nil
}
