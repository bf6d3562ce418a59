// Package treewalk implements the N-way synchronized tree iterator
// described in spec.md §4.9 (C9): it adapts a tree-object iterator, an
// index iterator and a working-tree iterator (or any combination of up to
// K sources implementing Level) behind a single position cursor that
// always exposes the lexicographically minimum current path across all of
// them, the same structure as the teacher's single-tree TreeWalker
// (tree_walker.go) generalized to many synchronized sources at once —
// the shape checkout and diff both need to compare HEAD/Index/MERGE/
// worktree at the same path simultaneously.
package treewalk

import (
	"errors"
	"path"

	"github.com/git-core/gitcore/object/filemode"
	"github.com/git-core/gitcore/objid"
)

// Entry is one source's view of the current path: its mode and object id.
// A nil *Entry in the slice Next()/Filter see means that source has no
// entry at this path.
type Entry struct {
	Mode filemode.FileMode
	ID   objid.ID
}

func isDirMode(m filemode.FileMode) bool { return m == filemode.Dir }

// Level is one directory level of one source. TreeWalk keeps one Level
// per source per stack frame and advances them in lock-step.
type Level interface {
	// Peek returns the name of the current entry and true, or false if
	// this level is exhausted.
	Peek() (string, bool)
	// Current returns the Entry at the current position. Only valid
	// when Peek reports ok.
	Current() *Entry
	// Advance moves to the next entry at this level.
	Advance() error
	// Enter returns the Level for the subtree rooted at the current
	// entry, or an empty Level if the current entry has no subtree
	// (a file, or a source that lacks this path entirely).
	Enter() (Level, error)
}

// FilterDecision is what a Filter asks the walk to do with the current
// path.
type FilterDecision int

const (
	// Include emits the current path as normal.
	Include FilterDecision = iota
	// Skip silently passes over the current path without emitting it; a
	// skipped directory is not descended into either.
	Skip
	// StopWalk ends iteration immediately for every source, spec.md
	// §4.9 "A StopWalk signal from any filter ends iteration for all
	// trees."
	StopWalk
)

// Filter is consulted before a path is emitted or descended into, spec.md
// §4.9 "filters are consulted before descent".
type Filter func(path string, entries []*Entry) FilterDecision

// ErrStopped is returned by Next once a Filter has returned StopWalk.
var ErrStopped = errors.New("treewalk: stopped by filter")

// ErrEOF is returned by Next once every source is exhausted.
var ErrEOF = errors.New("treewalk: no more entries")

type frame struct {
	path     string
	levels   []Level
	postName string // name to re-emit on pop, if PostOrder
	postEnts []*Entry
	hasPost  bool
}

// Options configures a TreeWalk.
type Options struct {
	// Recursive auto-enters subtrees: once a directory-like path is
	// returned by Next, its children are visited by subsequent calls
	// without the caller calling EnterSubtree.
	Recursive bool
	// PostOrder re-emits a directory path a second time, after its
	// descendants, spec.md §4.9 "Post-order mode re-emits a subtree
	// after its descendants." The directory is still returned once on
	// the way down, same as always (so filters keep seeing it "before
	// descent" per spec.md §4.9), then returned again once every
	// descendant has been visited — useful for consumers that build a
	// value bottom-up (e.g. a cache-tree id) and need to know when a
	// directory's children are all accounted for. Only meaningful
	// together with Recursive, since a non-recursive walk never
	// actually visits descendants.
	PostOrder bool
	Filters   []Filter
}

// TreeWalk is the N-way synchronized iterator of spec.md §4.9.
type TreeWalk struct {
	opts    Options
	stack   []*frame
	stopped bool

	// pending holds the subtree sources computed for the most recently
	// returned path, consumed by EnterSubtree in non-recursive mode.
	pendingLevels []Level
	pendingPath   string
	pendingValid  bool
}

// New starts a walk over levels (one per source, same order for every
// call site that reads the Entry slices Next returns).
func New(levels []Level, opts Options) *TreeWalk {
	return &TreeWalk{
		opts:  opts,
		stack: []*frame{{path: "", levels: levels}},
	}
}

// Next advances the walk and returns the lexicographically-minimum path
// across all live sources plus one Entry per source (nil where that
// source has no entry there). It returns ErrEOF when exhausted and
// ErrStopped once a Filter has returned StopWalk.
func (w *TreeWalk) Next() (string, []*Entry, error) {
	w.pendingValid = false
	if w.stopped {
		return "", nil, ErrEOF
	}

	for {
		if len(w.stack) == 0 {
			return "", nil, ErrEOF
		}
		top := w.stack[len(w.stack)-1]

		min, any := minName(top.levels)
		if !any {
			w.stack = w.stack[:len(w.stack)-1]
			if top.hasPost {
				return top.postName, top.postEnts, nil
			}
			continue
		}

		entries := make([]*Entry, len(top.levels))
		matched := make([]bool, len(top.levels))
		for i, lvl := range top.levels {
			name, ok := lvl.Peek()
			if ok && name == min {
				entries[i] = lvl.Current()
				matched[i] = true
			}
		}

		fullPath := min
		if top.path != "" {
			fullPath = path.Join(top.path, min)
		}

		decision := Include
		for _, f := range w.opts.Filters {
			d := f(fullPath, entries)
			if d == StopWalk {
				decision = StopWalk
				break
			}
			if d == Skip {
				decision = Skip
			}
		}

		if decision == StopWalk {
			w.stopped = true
			w.stack = nil
			return "", nil, ErrStopped
		}

		isDir := false
		for _, e := range entries {
			if e != nil && isDirMode(e.Mode) {
				isDir = true
				break
			}
		}

		var childLevels []Level
		if isDir {
			childLevels = make([]Level, len(top.levels))
			for i, lvl := range top.levels {
				if matched[i] {
					child, err := lvl.Enter()
					if err != nil {
						return "", nil, err
					}
					childLevels[i] = child
				} else {
					childLevels[i] = emptyLevel{}
				}
			}
		}

		for i, lvl := range top.levels {
			if matched[i] {
				if err := lvl.Advance(); err != nil {
					return "", nil, err
				}
			}
		}

		if decision == Skip {
			continue
		}

		if isDir {
			if w.opts.Recursive {
				w.stack = append(w.stack, &frame{
					path:     fullPath,
					levels:   childLevels,
					postName: fullPath,
					postEnts: entries,
					hasPost:  w.opts.PostOrder,
				})
			} else {
				w.pendingLevels = childLevels
				w.pendingPath = fullPath
				w.pendingValid = true
			}
		}

		return fullPath, entries, nil
	}
}

// EnterSubtree descends into the subtree of the path most recently
// returned by Next, in non-recursive mode: "enter_subtree() replaces each
// iterator at the current position with its subtree iterator (empty
// iterator for trees that lack the path)", spec.md §4.9. It is a no-op
// (returns false) if the last entry wasn't a directory or Next hasn't
// been called, or the walk is running in Recursive mode (which already
// auto-enters).
func (w *TreeWalk) EnterSubtree() bool {
	if w.opts.Recursive || !w.pendingValid {
		return false
	}
	w.stack = append(w.stack, &frame{
		path:     w.pendingPath,
		levels:   w.pendingLevels,
		postName: w.pendingPath,
		hasPost:  false,
	})
	w.pendingValid = false
	return true
}

func minName(levels []Level) (string, bool) {
	min := ""
	found := false
	for _, lvl := range levels {
		name, ok := lvl.Peek()
		if !ok {
			continue
		}
		if !found || name < min {
			min = name
			found = true
		}
	}
	return min, found
}

// emptyLevel is the Level for a source that has no entry at a path a
// sibling source does, or for a leaf entry with no subtree.
type emptyLevel struct{}

func (emptyLevel) Peek() (string, bool)    { return "", false }
func (emptyLevel) Current() *Entry         { return nil }
func (emptyLevel) Advance() error          { return nil }
func (emptyLevel) Enter() (Level, error)   { return emptyLevel{}, nil }
