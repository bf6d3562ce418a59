package refs

import (
	"os"
	"sort"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/lockfile"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
)

// CommandResult is the per-command outcome of a BatchUpdate, mirroring
// the codes a receive-pack reports back to a pushing client.
type CommandResult int

const (
	NotAttempted CommandResult = iota
	OK
	RejectedNonFastForward
	RejectedNoCreate
	RejectedNoDelete
	RejectedMissingObject
	RejectedOtherReason
	CommandLockFailure
)

func (r CommandResult) String() string {
	switch r {
	case OK:
		return "ok"
	case RejectedNonFastForward:
		return "rejected non-fast-forward"
	case RejectedNoCreate:
		return "rejected no-create"
	case RejectedNoDelete:
		return "rejected no-delete"
	case RejectedMissingObject:
		return "rejected missing-object"
	case RejectedOtherReason:
		return "rejected other-reason"
	case CommandLockFailure:
		return "lock-failure"
	default:
		return "not-attempted"
	}
}

// Command is one entry of a BatchUpdate, e.g. one line of a receive-pack
// command list. NewID == objid.Zero requests deletion.
type Command struct {
	Name  Name
	OldID objid.ID
	NewID objid.ID
	Force bool
}

func (c Command) isCreate() bool { return c.OldID.IsZero() && !c.NewID.IsZero() }
func (c Command) isDelete() bool { return !c.OldID.IsZero() && c.NewID.IsZero() }

// BatchOptions controls BatchUpdate's transactionality.
type BatchOptions struct {
	Atomic  bool // one rejection aborts the whole batch
	DryRun  bool // classify every command but commit nothing
	Signer  object.Signature
	Message string
}

// BatchUpdate applies a set of Commands as one logical transaction,
// spec.md §4.6 "apply_updates". Results has the same length and order as
// cmds. A lock-acquisition failure never panics the batch: the offending
// command is marked CommandLockFailure; in non-atomic mode the remaining
// commands are still attempted, and in atomic mode every other command is
// left NotAttempted.
func (db *RefDatabase) BatchUpdate(cmds []Command, opts BatchOptions) ([]CommandResult, error) {
	results := make([]CommandResult, len(cmds))

	order := make([]int, len(cmds))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return cmds[order[i]].Name < cmds[order[j]].Name })

	seen := map[Name]bool{}
	locks := map[Name]*lockfile.Lock{}
	defer func() {
		for _, l := range locks {
			l.Unlock()
		}
	}()

	abort := func(from int) ([]CommandResult, error) {
		// Nothing is written on an atomic abort, so commands already
		// classified OK are reported NotAttempted like the later ones.
		for _, idx := range order[:from] {
			if results[idx] == OK {
				results[idx] = NotAttempted
			}
		}
		return results, nil
	}

	for pos, idx := range order {
		cmd := cmds[idx]
		if seen[cmd.Name] {
			results[idx] = RejectedOtherReason
			if opts.Atomic {
				return abort(pos)
			}
			continue
		}
		seen[cmd.Name] = true

		if _, conflict := db.conflictsWithHierarchy(cmd.Name); conflict {
			results[idx] = RejectedOtherReason
			if opts.Atomic {
				return abort(pos)
			}
			continue
		}

		lock, err := lockfile.Acquire(db.fs, string(cmd.Name))
		if err != nil {
			results[idx] = CommandLockFailure
			if opts.Atomic {
				return abort(pos)
			}
			continue
		}
		locks[cmd.Name] = lock

		current, err := db.readCurrent(cmd.Name)
		if err != nil {
			results[idx] = RejectedOtherReason
			if opts.Atomic {
				return abort(pos)
			}
			continue
		}

		var have objid.ID
		if current != nil && current.IsHash() {
			have = current.ID()
		}
		if have != cmd.OldID {
			results[idx] = RejectedOtherReason
			if opts.Atomic {
				return abort(pos)
			}
			continue
		}

		switch {
		case cmd.isDelete():
			results[idx] = OK
		case cmd.isCreate():
			results[idx] = OK
		default:
			if !cmd.Force && db.loader != nil {
				ok, err := isAncestor(db.loader, cmd.OldID, cmd.NewID)
				if err != nil {
					results[idx] = RejectedMissingObject
					if opts.Atomic {
						return abort(pos)
					}
					continue
				}
				if !ok {
					results[idx] = RejectedNonFastForward
					if opts.Atomic {
						return abort(pos)
					}
					continue
				}
			}
			results[idx] = OK
		}
	}

	if opts.Atomic {
		for _, idx := range order {
			if results[idx] != OK {
				for i := range results {
					if results[i] == OK {
						results[i] = NotAttempted
					}
				}
				return results, nil
			}
		}
	}

	if opts.DryRun {
		return results, nil
	}

	for _, idx := range order {
		if results[idx] != OK {
			continue
		}
		cmd := cmds[idx]
		lock := locks[cmd.Name]

		if cmd.isDelete() {
			if err := db.fs.Remove(string(cmd.Name)); err != nil && !os.IsNotExist(err) {
				return results, gitkind.Wrap(gitkind.IoError, err, "refs: removing "+string(cmd.Name))
			}
			lock.Unlock()
		} else {
			ref := NewHashReference(cmd.Name, cmd.NewID)
			if _, err := lock.Write([]byte(ref.String())); err != nil {
				return results, gitkind.Wrap(gitkind.IoError, err, "refs: writing "+string(cmd.Name))
			}
			if err := lock.Commit(lockfile.Policy{}); err != nil {
				return results, err
			}
		}
		delete(locks, cmd.Name)

		if err := appendReflog(db.fs, cmd.Name, cmd.OldID, cmd.NewID, opts.Signer, opts.Message); err != nil {
			return results, err
		}
	}

	return results, db.refresh()
}
