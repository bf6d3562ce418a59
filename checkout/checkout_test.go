package checkout

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/git-core/gitcore/index"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/object/filemode"
	"github.com/git-core/gitcore/objid"
)

type CheckoutSuite struct {
	suite.Suite
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutSuite))
}

// fakeStore is a minimal in-memory object store good enough to stand in
// for odb.Store in these tests: it hashes blobs/trees the same way
// odb.Store's loose writer does, so ids computed here and ids recorded in
// index entries/tree entries agree.
type fakeStore struct {
	objects map[objid.ID]storedObject
}

type storedObject struct {
	typ  object.Type
	data []byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[objid.ID]storedObject{}}
}

func (f *fakeStore) Get(id objid.ID) (object.Type, []byte, error) {
	o, ok := f.objects[id]
	if !ok {
		return object.InvalidType, nil, fmt.Errorf("not found: %s", id)
	}
	return o.typ, o.data, nil
}

func (f *fakeStore) putBlob(content string) objid.ID {
	return f.put(object.BlobType, []byte(content))
}

func (f *fakeStore) putTree(t *object.Tree) objid.ID {
	var buf bytes.Buffer
	_ = t.Encode(&buf)
	return f.put(object.TreeType, buf.Bytes())
}

func (f *fakeStore) put(typ object.Type, data []byte) objid.ID {
	h := objid.NewHasher()
	fmt.Fprintf(h, "%s %d\x00", typ, len(data))
	h.Write(data)
	id := objid.FromBytes(h.Sum(nil))
	f.objects[id] = storedObject{typ: typ, data: data}
	return id
}

func (s *CheckoutSuite) writeFile(fs billy.Filesystem, path, content string) {
	f, err := fs.Create(path)
	s.Require().NoError(err)
	_, err = f.Write([]byte(content))
	s.Require().NoError(err)
	s.Require().NoError(f.Close())
}

func (s *CheckoutSuite) TestPlanClassifiesAcrossHeadIndexMergeWorktree() {
	store := newFakeStore()
	fs := memfs.New()

	// "unchanged.txt": H == I == M, worktree clean -> Keep, no buckets.
	unchangedID := store.putBlob("same everywhere")
	s.writeFile(fs, "unchanged.txt", "same everywhere")

	// "removed.txt": H == I, M has no entry -> Remove.
	removedID := store.putBlob("going away")
	s.writeFile(fs, "removed.txt", "going away")

	// "updated.txt": H == I, M differs, worktree clean -> Update to M.
	updatedOldID := store.putBlob("old content")
	updatedNewID := store.putBlob("new content")
	s.writeFile(fs, "updated.txt", "old content")

	// "dirty.txt": H == I, M == H, worktree differs -> Keep action, but
	// flagged Modified.
	dirtyID := store.putBlob("checked in")
	s.writeFile(fs, "dirty.txt", "edited locally")

	// "gone-from-disk.txt": tracked in the index, absent from the
	// worktree -> Missing.
	missingID := store.putBlob("only in index")

	// "extra.txt": only in the worktree -> Untracked.
	s.writeFile(fs, "extra.txt", "nobody asked for this")

	headTree := store.putTree(&object.Tree{Entries: []object.Entry{
		{Name: "dirty.txt", Mode: filemode.Regular, ID: dirtyID},
		{Name: "removed.txt", Mode: filemode.Regular, ID: removedID},
		{Name: "unchanged.txt", Mode: filemode.Regular, ID: unchangedID},
		{Name: "updated.txt", Mode: filemode.Regular, ID: updatedOldID},
	}})
	mergeTree := store.putTree(&object.Tree{Entries: []object.Entry{
		{Name: "dirty.txt", Mode: filemode.Regular, ID: dirtyID},
		{Name: "unchanged.txt", Mode: filemode.Regular, ID: unchangedID},
		{Name: "updated.txt", Mode: filemode.Regular, ID: updatedNewID},
	}})

	idx := index.New()
	idx.Entries = []*index.Entry{
		{Name: "dirty.txt", Mode: filemode.Regular, ID: dirtyID},
		{Name: "gone-from-disk.txt", Mode: filemode.Regular, ID: missingID},
		{Name: "removed.txt", Mode: filemode.Regular, ID: removedID},
		{Name: "unchanged.txt", Mode: filemode.Regular, ID: unchangedID},
		{Name: "updated.txt", Mode: filemode.Regular, ID: updatedOldID},
	}
	idx.Sort()

	report, err := Plan(Inputs{
		Loader:    store,
		Index:     idx,
		Worktree:  fs,
		HeadTree:  headTree,
		MergeTree: mergeTree,
	})
	s.Require().NoError(err)
	s.Empty(report.Conflicting)

	byPath := map[string]PathResult{}
	for _, r := range report.Results {
		byPath[r.Path] = r
	}

	s.Equal(Keep, byPath["unchanged.txt"].Action)
	s.Equal(Remove, byPath["removed.txt"].Action)
	s.Equal(Update, byPath["updated.txt"].Action)
	s.Equal(updatedNewID, byPath["updated.txt"].ID)
	s.Equal(Keep, byPath["dirty.txt"].Action)
	s.Equal(Keep, byPath["gone-from-disk.txt"].Action)

	s.ElementsMatch([]string{"removed.txt"}, report.Removed)
	s.ElementsMatch([]string{"gone-from-disk.txt"}, report.Missing)
	s.ElementsMatch([]string{"extra.txt"}, report.Untracked)
	s.ElementsMatch([]string{"dirty.txt"}, report.Modified)
	s.ElementsMatch([]string{"updated.txt"}, report.Changed)
}

func (s *CheckoutSuite) TestApplyMaterializesUpdatesAndRemoves() {
	store := newFakeStore()
	fs := memfs.New()

	oldID := store.putBlob("old content")
	newID := store.putBlob("new content")
	goneID := store.putBlob("bye")

	s.writeFile(fs, "updated.txt", "old content")
	s.writeFile(fs, "removed.txt", "bye")

	headTree := store.putTree(&object.Tree{Entries: []object.Entry{
		{Name: "removed.txt", Mode: filemode.Regular, ID: goneID},
		{Name: "updated.txt", Mode: filemode.Regular, ID: oldID},
	}})
	mergeTree := store.putTree(&object.Tree{Entries: []object.Entry{
		{Name: "updated.txt", Mode: filemode.Regular, ID: newID},
	}})

	idx := index.New()
	idx.Entries = []*index.Entry{
		{Name: "removed.txt", Mode: filemode.Regular, ID: goneID},
		{Name: "updated.txt", Mode: filemode.Regular, ID: oldID},
	}
	idx.Sort()

	in := Inputs{Loader: store, Index: idx, Worktree: fs, HeadTree: headTree, MergeTree: mergeTree}
	report, err := Plan(in)
	s.Require().NoError(err)
	s.Require().False(report.HasConflicts())

	s.Require().NoError(Apply(report, in))

	f, err := fs.Open("updated.txt")
	s.Require().NoError(err)
	data, err := io.ReadAll(f)
	s.Require().NoError(err)
	s.Equal("new content", string(data))

	_, err = fs.Open("removed.txt")
	s.Error(err)

	_, ok := idx.Entry("removed.txt", index.Merged)
	s.False(ok)
	e, ok := idx.Entry("updated.txt", index.Merged)
	s.Require().True(ok)
	s.Equal(newID, e.ID)
}

func (s *CheckoutSuite) TestPlanFailOnConflictAbortsBeforeMutating() {
	store := newFakeStore()
	fs := memfs.New()

	headID := store.putBlob("head version")
	indexID := store.putBlob("index version")
	mergeID := store.putBlob("merge version")
	s.writeFile(fs, "fought-over.txt", "index version")

	headTree := store.putTree(&object.Tree{Entries: []object.Entry{
		{Name: "fought-over.txt", Mode: filemode.Regular, ID: headID},
	}})
	mergeTree := store.putTree(&object.Tree{Entries: []object.Entry{
		{Name: "fought-over.txt", Mode: filemode.Regular, ID: mergeID},
	}})
	idx := index.New()
	idx.Entries = []*index.Entry{
		{Name: "fought-over.txt", Mode: filemode.Regular, ID: indexID},
	}
	idx.Sort()

	in := Inputs{Loader: store, Index: idx, Worktree: fs, HeadTree: headTree, MergeTree: mergeTree}

	report, err := PlanWithOptions(in, Options{FailOnConflict: true})
	s.ErrorIs(err, ErrConflicts)
	s.Require().NotNil(report)
	s.Equal([]string{"fought-over.txt"}, report.Conflicting)

	// without FailOnConflict the walk still completes and simply records
	// the conflict for the caller to inspect.
	report, err = Plan(in)
	s.Require().NoError(err)
	s.Equal([]string{"fought-over.txt"}, report.Conflicting)
	s.True(report.HasConflicts())
	s.ErrorIs(Apply(report, in), ErrConflicts)
}

func (s *CheckoutSuite) TestDirectoryFileTypeMismatchIsConflict() {
	store := newFakeStore()
	fs := memfs.New()

	emptySubtree := store.putTree(&object.Tree{})
	fileA := store.putBlob("a")
	fileB := store.putBlob("b")

	headTree := store.putTree(&object.Tree{Entries: []object.Entry{
		{Name: "thing", Mode: filemode.Dir, ID: emptySubtree},
	}})
	mergeTree := store.putTree(&object.Tree{Entries: []object.Entry{
		{Name: "thing", Mode: filemode.Regular, ID: fileB},
	}})
	idx := index.New()
	idx.Entries = []*index.Entry{
		{Name: "thing", Mode: filemode.Regular, ID: fileA},
	}
	idx.Sort()

	report, err := Plan(Inputs{Loader: store, Index: idx, Worktree: fs, HeadTree: headTree, MergeTree: mergeTree})
	s.Require().NoError(err)
	s.Equal([]string{"thing"}, report.Conflicting)
}
