package index

import "strings"

// Editor applies PathEdit/DeletePath commands to an already-sorted Index in
// a single merge pass, spec.md §4.5 "Builder vs Editor": cheaper than a
// Builder when only a handful of paths change in an otherwise large,
// already-sorted index (e.g. applying one merge result, or `git add` on a
// few paths), since there's no need to re-sort everything.
type Editor struct {
	idx  *Index
	cmds []editCmd
}

type editCmd struct {
	name  string
	stage Stage
	set   *Entry // nil means DeletePath
}

// NewEditor starts an editor over idx, whose Entries must already be
// sorted (true of any Index produced by Decode, Builder.Finish, or a prior
// Editor.Finish).
func NewEditor(idx *Index) *Editor {
	return &Editor{idx: idx}
}

// PathEdit queues setting (name, stage) to e, inserting it if absent.
func (ed *Editor) PathEdit(name string, stage Stage, e *Entry) {
	ed.cmds = append(ed.cmds, editCmd{name: name, stage: stage, set: e})
}

// DeletePath queues removing (name, stage), a no-op if absent.
func (ed *Editor) DeletePath(name string, stage Stage) {
	ed.cmds = append(ed.cmds, editCmd{name: name, stage: stage, set: nil})
}

// Finish merges the queued commands into idx's entry array in a single
// pass and returns idx, mutated in place. Invalidates the cache-tree chain
// for every touched path so WriteTree knows to rebuild it.
func (ed *Editor) Finish() *Index {
	sortCmds(ed.cmds)

	merged := make([]*Entry, 0, len(ed.idx.Entries)+len(ed.cmds))
	i, j := 0, 0
	for i < len(ed.idx.Entries) || j < len(ed.cmds) {
		switch {
		case j >= len(ed.cmds):
			merged = append(merged, ed.idx.Entries[i])
			i++
		case i >= len(ed.idx.Entries):
			if ed.cmds[j].set != nil {
				merged = append(merged, ed.cmds[j].set)
			}
			ed.invalidate(ed.cmds[j].name)
			j++
		default:
			cur := ed.idx.Entries[i]
			cmd := ed.cmds[j]
			switch {
			case cur.Name == cmd.name && cur.Stage == cmd.stage:
				if cmd.set != nil {
					merged = append(merged, cmd.set)
				}
				ed.invalidate(cmd.name)
				i++
				j++
			case cur.Name < cmd.name || (cur.Name == cmd.name && cur.Stage < cmd.stage):
				merged = append(merged, cur)
				i++
			default:
				if cmd.set != nil {
					merged = append(merged, cmd.set)
				}
				ed.invalidate(cmd.name)
				j++
			}
		}
	}

	ed.idx.Entries = merged
	return ed.idx
}

func (ed *Editor) invalidate(path string) {
	if ed.idx.Cache == nil {
		return
	}
	ed.idx.Cache.Invalidate(dirOf(path))
}

func dirOf(path string) string {
	if slash := strings.LastIndexByte(path, '/'); slash >= 0 {
		return path[:slash]
	}
	return ""
}

func sortCmds(cmds []editCmd) {
	// insertion sort: the edit set for one Editor.Finish call is always
	// small relative to the index it's being merged into.
	for i := 1; i < len(cmds); i++ {
		for j := i; j > 0 && cmdLess(cmds[j], cmds[j-1]); j-- {
			cmds[j], cmds[j-1] = cmds[j-1], cmds[j]
		}
	}
}

func cmdLess(a, b editCmd) bool {
	if a.name != b.name {
		return a.name < b.name
	}
	return a.stage < b.stage
}
