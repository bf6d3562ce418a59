package refs

import (
	"bytes"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
)

// CommitLoader resolves a commit id to its decoded commit object, the
// minimal slice of an object store a RevWalk needs.
type CommitLoader interface {
	Get(id objid.ID) (object.Type, []byte, error)
}

// commitTimeOrder pops the most recently committed node first, matching
// the teacher's commitnode_walker_date_order.go ordering so the walk can
// stop as soon as every frontier node is older than the target.
func commitTimeOrder(a, b interface{}) int {
	ca, cb := a.(*object.Commit), b.(*object.Commit)
	switch {
	case ca.Committer.When.After(cb.Committer.When):
		return -1 // binaryheap pops the smallest, so newer ranks first
	case ca.Committer.When.Before(cb.Committer.When):
		return 1
	default:
		return 0
	}
}

func loadCommit(loader CommitLoader, id objid.ID) (*object.Commit, error) {
	typ, data, err := loader.Get(id)
	if err != nil {
		return nil, gitkind.Wrap(gitkind.IoError, err, "refs: loading commit "+id.String())
	}
	if typ != object.CommitType {
		return nil, gitkind.Newf(gitkind.Corrupt, "refs: %s is a %s, not a commit", id, typ)
	}
	c := &object.Commit{}
	if err := c.Decode(bytes.NewReader(data)); err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "refs: decoding commit "+id.String())
	}
	return c, nil
}

// isAncestor reports whether old is reachable from new by following
// parent links, i.e. whether advancing a ref from old to new would be a
// fast-forward (spec.md §4.6 RefUpdate classification).
func isAncestor(loader CommitLoader, old, new objid.ID) (bool, error) {
	if old == new {
		return true, nil
	}

	target, err := loadCommit(loader, old)
	if err != nil {
		return false, err
	}
	start, err := loadCommit(loader, new)
	if err != nil {
		return false, err
	}

	heap := binaryheap.NewWith(commitTimeOrder)
	heap.Push(start)
	seen := map[objid.ID]bool{new: true}

	for !heap.Empty() {
		v, _ := heap.Pop()
		cur := v.(*object.Commit)

		// Once every frontier commit is older than the target, old can
		// no longer be found among the remaining ancestors.
		if cur.Committer.When.Before(target.Committer.When) {
			return false, nil
		}

		for _, pid := range cur.ParentIDs {
			if pid == old {
				return true, nil
			}
			if seen[pid] {
				continue
			}
			seen[pid] = true
			parent, err := loadCommit(loader, pid)
			if err != nil {
				return false, err
			}
			heap.Push(parent)
		}
	}
	return false, nil
}
