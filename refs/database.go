package refs

import (
	"os"
	"sort"
	"sync/atomic"

	billy "github.com/go-git/go-billy/v5"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/lockfile"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
)

const maxSymbolicDepth = 5

// Result classifies the outcome of a single-ref Update, spec.md §4.6.
type Result int

const (
	New Result = iota
	NoChange
	FastForward
	Forced
	Rejected
	LockFailure
)

func (r Result) String() string {
	switch r {
	case New:
		return "new"
	case NoChange:
		return "no-change"
	case FastForward:
		return "fast-forward"
	case Forced:
		return "forced"
	case Rejected:
		return "rejected"
	case LockFailure:
		return "lock-failure"
	default:
		return "unknown"
	}
}

// RefDatabase owns the reference namespace of one repository: an
// immutable RefCache snapshot published by compare-and-swap, and the
// lockfile-protected writes that produce the next snapshot.
type RefDatabase struct {
	fs       billy.Filesystem
	loader   CommitLoader // nil disables the fast-forward ancestry check
	snapshot atomic.Pointer[RefCache]
}

// Open builds the initial RefCache by scanning fs. loader is used to
// decide FastForward vs Forced on non-trivial updates; pass nil if the
// caller never needs that distinction (every such update then classifies
// as Rejected unless Force is set).
func Open(fs billy.Filesystem, loader CommitLoader) (*RefDatabase, error) {
	cache, err := buildRefCache(fs)
	if err != nil {
		return nil, err
	}
	db := &RefDatabase{fs: fs, loader: loader}
	db.snapshot.Store(cache)
	return db, nil
}

// Snapshot returns the RefCache currently in effect. Concurrent readers
// never observe a torn or partially-applied update.
func (db *RefDatabase) Snapshot() *RefCache { return db.snapshot.Load() }

func (db *RefDatabase) refresh() error {
	for {
		old := db.snapshot.Load()
		cache, err := buildRefCache(db.fs)
		if err != nil {
			return err
		}
		// A failed swap means another writer published meanwhile; rescan
		// so the published snapshot is never older than theirs.
		if db.snapshot.CompareAndSwap(old, cache) {
			return nil
		}
	}
}

// resolveShortName tries name against SearchPath in order and returns the
// first hit, spec.md §4.6 "get_ref".
func resolveShortName(cache *RefCache, name Name) (*Reference, error) {
	for _, prefix := range SearchPath {
		ref, err := cache.Lookup(Name(prefix + string(name)))
		if err != nil {
			return nil, err
		}
		if ref != nil {
			return ref, nil
		}
	}
	return nil, nil
}

// Resolve expands a short name against SearchPath without following
// symbolic references.
func (db *RefDatabase) Resolve(name Name) (*Reference, error) {
	return resolveShortName(db.Snapshot(), name)
}

// Dereference expands name and follows symbolic references to their
// final hash reference, failing if the chain exceeds maxSymbolicDepth
// (catching a cycle as well as merely deep nesting), spec.md §4.6.
func (db *RefDatabase) Dereference(name Name) (*Reference, error) {
	cache := db.Snapshot()
	cur := name
	for depth := 0; depth < maxSymbolicDepth; depth++ {
		ref, err := resolveShortName(cache, cur)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			return nil, gitkind.Newf(gitkind.NotFound, "refs: %s does not exist", cur)
		}
		if ref.IsHash() {
			return ref, nil
		}
		cur = ref.Target()
	}
	return nil, gitkind.Newf(gitkind.Corrupt, "refs: %s: symbolic reference chain too deep (possible cycle)", name)
}

// readCurrent reads the exact on-disk value of name, preferring a loose
// ref over whatever the last snapshot cached for it: the caller holds
// name's lock so the loose file can't change underneath it, but the
// snapshot might predate this call.
func (db *RefDatabase) readCurrent(name Name) (*Reference, error) {
	if _, err := db.fs.Stat(string(name)); err == nil {
		return readLooseRef(db.fs, name)
	} else if !os.IsNotExist(err) {
		return nil, gitkind.Wrap(gitkind.IoError, err, "refs: stat "+string(name))
	}
	return db.Snapshot().Lookup(name)
}

// conflictsWithHierarchy reports whether name collides with an existing
// reference by one being a directory-like prefix of the other, e.g.
// refs/heads/foo vs refs/heads/foo/bar can never coexist on a filesystem.
func (db *RefDatabase) conflictsWithHierarchy(name Name) (Name, bool) {
	prefix := string(name) + "/"
	for _, ref := range db.Snapshot().All() {
		if ref.Name() == name {
			continue
		}
		other := string(ref.Name())
		if len(other) > len(prefix) && other[:len(prefix)] == prefix {
			return ref.Name(), true
		}
		if len(string(name)) > len(other)+1 && string(name)[:len(other)+1] == other+"/" {
			return ref.Name(), true
		}
	}
	return "", false
}

// RefUpdate is a single requested change to one reference.
type RefUpdate struct {
	Name      Name
	NewID     objid.ID
	ExpectOld *objid.ID // nil means "don't check"
	Force     bool      // allow a non-fast-forward move
	Signer    object.Signature
	Message   string
}

// Update applies one RefUpdate under its own lock, classifying the
// result per spec.md §4.6 before deciding whether to write.
func (db *RefDatabase) Update(ru RefUpdate) (Result, error) {
	if _, conflict := db.conflictsWithHierarchy(ru.Name); conflict {
		return Rejected, gitkind.Newf(gitkind.ConflictingName, "refs: %s conflicts with an existing reference", ru.Name)
	}

	lock, err := lockfile.Acquire(db.fs, string(ru.Name))
	if err != nil {
		return LockFailure, err
	}
	defer lock.Unlock()

	current, err := db.readCurrent(ru.Name)
	if err != nil {
		return Rejected, err
	}

	if ru.ExpectOld != nil {
		var have objid.ID
		if current != nil && current.IsHash() {
			have = current.ID()
		}
		if have != *ru.ExpectOld {
			return Rejected, gitkind.Newf(gitkind.Corrupt, "refs: %s: compare-and-swap mismatch", ru.Name)
		}
	}

	result, err := db.classify(current, ru.NewID, ru.Force)
	if err != nil {
		return Rejected, err
	}
	if result == Rejected || result == NoChange {
		return result, nil
	}

	newRef := NewHashReference(ru.Name, ru.NewID)
	if _, err := lock.Write([]byte(newRef.String())); err != nil {
		return LockFailure, gitkind.Wrap(gitkind.IoError, err, "refs: writing "+string(ru.Name))
	}
	if err := lock.Commit(lockfile.Policy{}); err != nil {
		return LockFailure, err
	}

	var oldID objid.ID
	if current != nil && current.IsHash() {
		oldID = current.ID()
	}
	if err := appendReflog(db.fs, ru.Name, oldID, ru.NewID, ru.Signer, ru.Message); err != nil {
		return result, err
	}

	return result, db.refresh()
}

// classify decides the Result of moving name from current to newID,
// spec.md §4.6's NEW/NO_CHANGE/FAST_FORWARD/FORCED/REJECTED table.
func (db *RefDatabase) classify(current *Reference, newID objid.ID, force bool) (Result, error) {
	if current == nil {
		return New, nil
	}
	if current.IsHash() && current.ID() == newID {
		return NoChange, nil
	}
	if current.IsHash() && db.loader != nil {
		ok, err := isAncestor(db.loader, current.ID(), newID)
		if err != nil {
			return Rejected, err
		}
		if ok {
			return FastForward, nil
		}
	}
	if force {
		return Forced, nil
	}
	return Rejected, nil
}

// Delete removes a reference outright, honoring the same lock protocol.
func (db *RefDatabase) Delete(name Name, sig object.Signature, message string) error {
	lock, err := lockfile.Acquire(db.fs, string(name))
	if err != nil {
		return err
	}
	defer lock.Unlock()

	current, err := db.readCurrent(name)
	if err != nil {
		return err
	}
	if current == nil {
		return gitkind.Newf(gitkind.NotFound, "refs: %s does not exist", name)
	}

	if err := db.fs.Remove(string(name)); err != nil && !os.IsNotExist(err) {
		return gitkind.Wrap(gitkind.IoError, err, "refs: removing "+string(name))
	}

	var oldID objid.ID
	if current.IsHash() {
		oldID = current.ID()
	}
	if err := appendReflog(db.fs, name, oldID, objid.Zero, sig, message); err != nil {
		return err
	}

	return db.refresh()
}

// Pack compacts the named loose refs into packed-refs, then removes the
// now-redundant loose files, spec.md §4.6 "pack_refs".
func (db *RefDatabase) Pack(names []Name) error {
	lock, err := lockfile.Acquire(db.fs, packedRefsPath)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	existing, err := readPackedRefs(db.fs)
	if err != nil {
		return err
	}
	byName := map[Name]packedEntry{}
	for _, e := range existing {
		byName[e.ref.Name()] = e
	}

	wanted := map[Name]bool{}
	for _, n := range names {
		wanted[n] = true
		ref, err := readLooseRef(db.fs, n)
		if err != nil {
			return err
		}
		byName[n] = packedEntry{ref: ref}
	}

	merged := make([]packedEntry, 0, len(byName))
	for _, e := range byName {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ref.name < merged[j].ref.name })

	if err := encodePackedRefs(lock, merged); err != nil {
		return err
	}
	if err := lock.Commit(lockfile.Policy{}); err != nil {
		return err
	}

	for n := range wanted {
		if err := db.fs.Remove(string(n)); err != nil && !os.IsNotExist(err) {
			return gitkind.Wrap(gitkind.IoError, err, "refs: removing packed loose ref "+string(n))
		}
	}

	return db.refresh()
}
