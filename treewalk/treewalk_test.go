package treewalk

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/git-core/gitcore/index"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/object/filemode"
	"github.com/git-core/gitcore/objid"
)

type TreeWalkSuite struct {
	suite.Suite
}

func TestTreeWalkSuite(t *testing.T) {
	suite.Run(t, new(TreeWalkSuite))
}

type fakeLoader struct {
	objects map[objid.ID][]byte
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{objects: map[objid.ID][]byte{}}
}

func (f *fakeLoader) Get(id objid.ID) (object.Type, []byte, error) {
	data, ok := f.objects[id]
	if !ok {
		return object.InvalidType, nil, fmt.Errorf("not found: %s", id)
	}
	return object.TreeType, data, nil
}

func (f *fakeLoader) put(t *object.Tree) objid.ID {
	var buf bytes.Buffer
	_ = t.Encode(&buf)
	h := objid.NewHasher()
	fmt.Fprintf(h, "%s %d\x00", object.TreeType, buf.Len())
	h.Write(buf.Bytes())
	id := objid.FromBytes(h.Sum(nil))
	f.objects[id] = buf.Bytes()
	return id
}

func blobID(b byte) objid.ID {
	var raw [objid.Size]byte
	raw[0] = b
	return objid.FromBytes(raw[:])
}

// buildSample builds:
//   root/
//     a.txt (blob 1)
//     sub/
//       b.txt (blob 2)
//     z.txt (blob 3)
func (s *TreeWalkSuite) buildSample(loader *fakeLoader) objid.ID {
	subID := loader.put(&object.Tree{Entries: []object.Entry{
		{Name: "b.txt", Mode: filemode.Regular, ID: blobID(2)},
	}})
	rootID := loader.put(&object.Tree{Entries: []object.Entry{
		{Name: "a.txt", Mode: filemode.Regular, ID: blobID(1)},
		{Name: "sub", Mode: filemode.Dir, ID: subID},
		{Name: "z.txt", Mode: filemode.Regular, ID: blobID(3)},
	}})
	return rootID
}

func (s *TreeWalkSuite) TestRecursiveWalkVisitsInLexicographicOrder() {
	loader := newFakeLoader()
	rootID := s.buildSample(loader)

	level, err := NewTreeLevel(loader, rootID)
	s.Require().NoError(err)

	w := New([]Level{level}, Options{Recursive: true})
	var paths []string
	for {
		p, _, err := w.Next()
		if err == ErrEOF {
			break
		}
		s.Require().NoError(err)
		paths = append(paths, p)
	}
	s.Equal([]string{"a.txt", "sub", "sub/b.txt", "z.txt"}, paths)
}

func (s *TreeWalkSuite) TestNonRecursiveRequiresExplicitEnterSubtree() {
	loader := newFakeLoader()
	rootID := s.buildSample(loader)
	level, err := NewTreeLevel(loader, rootID)
	s.Require().NoError(err)

	w := New([]Level{level}, Options{})
	p, _, err := w.Next()
	s.Require().NoError(err)
	s.Equal("a.txt", p)

	p, _, err = w.Next()
	s.Require().NoError(err)
	s.Equal("sub", p)

	// without EnterSubtree, sub/b.txt is never visited
	p, _, err = w.Next()
	s.Require().NoError(err)
	s.Equal("z.txt", p)
}

func (s *TreeWalkSuite) TestEnterSubtreeDescendsManually() {
	loader := newFakeLoader()
	rootID := s.buildSample(loader)
	level, err := NewTreeLevel(loader, rootID)
	s.Require().NoError(err)

	w := New([]Level{level}, Options{})
	_, _, err = w.Next() // a.txt
	s.Require().NoError(err)
	_, _, err = w.Next() // sub
	s.Require().NoError(err)

	s.True(w.EnterSubtree())
	p, _, err := w.Next()
	s.Require().NoError(err)
	s.Equal("sub/b.txt", p)
}

func (s *TreeWalkSuite) TestPostOrderReemitsDirectoryAfterDescendants() {
	loader := newFakeLoader()
	rootID := s.buildSample(loader)
	level, err := NewTreeLevel(loader, rootID)
	s.Require().NoError(err)

	w := New([]Level{level}, Options{Recursive: true, PostOrder: true})
	var paths []string
	for {
		p, _, err := w.Next()
		if err == ErrEOF {
			break
		}
		s.Require().NoError(err)
		paths = append(paths, p)
	}
	// "sub" is visited on the way down (so filters still see it before
	// descent) and re-emitted once its descendants are exhausted.
	s.Equal([]string{"a.txt", "sub", "sub/b.txt", "sub", "z.txt"}, paths)
}

func (s *TreeWalkSuite) TestFilterSkipOmitsPathButContinues() {
	loader := newFakeLoader()
	rootID := s.buildSample(loader)
	level, err := NewTreeLevel(loader, rootID)
	s.Require().NoError(err)

	skipAtxt := func(path string, entries []*Entry) FilterDecision {
		if path == "a.txt" {
			return Skip
		}
		return Include
	}

	w := New([]Level{level}, Options{Recursive: true, Filters: []Filter{skipAtxt}})
	var paths []string
	for {
		p, _, err := w.Next()
		if err == ErrEOF {
			break
		}
		s.Require().NoError(err)
		paths = append(paths, p)
	}
	s.Equal([]string{"sub", "sub/b.txt", "z.txt"}, paths)
}

func (s *TreeWalkSuite) TestFilterStopWalkEndsIterationEntirely() {
	loader := newFakeLoader()
	rootID := s.buildSample(loader)
	level, err := NewTreeLevel(loader, rootID)
	s.Require().NoError(err)

	stopAtSub := func(path string, entries []*Entry) FilterDecision {
		if path == "sub" {
			return StopWalk
		}
		return Include
	}

	w := New([]Level{level}, Options{Recursive: true, Filters: []Filter{stopAtSub}})
	_, _, err = w.Next() // a.txt
	s.Require().NoError(err)

	_, _, err = w.Next()
	s.Equal(ErrStopped, err)

	_, _, err = w.Next()
	s.Equal(ErrEOF, err)
}

func (s *TreeWalkSuite) TestSynchronizedTreeAndIndexSources() {
	loader := newFakeLoader()
	rootID := s.buildSample(loader)
	treeLevel, err := NewTreeLevel(loader, rootID)
	s.Require().NoError(err)

	idx := index.New()
	idx.Entries = []*index.Entry{
		{Name: "a.txt", Mode: filemode.Regular, ID: blobID(9)}, // differs from tree's blob 1
		{Name: "new.txt", Mode: filemode.Regular, ID: blobID(4)},
		{Name: "sub/b.txt", Mode: filemode.Regular, ID: blobID(2)},
	}
	idx.Sort()
	indexLevel := NewIndexLevel(idx)

	w := New([]Level{treeLevel, indexLevel}, Options{Recursive: true})
	type seen struct {
		path     string
		treeID   objid.ID
		indexID  objid.ID
		hasTree  bool
		hasIndex bool
	}
	var got []seen
	for {
		p, entries, err := w.Next()
		if err == ErrEOF {
			break
		}
		s.Require().NoError(err)
		rec := seen{path: p}
		if entries[0] != nil {
			rec.hasTree = true
			rec.treeID = entries[0].ID
		}
		if entries[1] != nil {
			rec.hasIndex = true
			rec.indexID = entries[1].ID
		}
		got = append(got, rec)
	}

	s.Require().Len(got, 5)
	s.Equal("a.txt", got[0].path)
	s.True(got[0].hasTree && got[0].hasIndex)
	s.NotEqual(got[0].treeID, got[0].indexID)

	s.Equal("new.txt", got[1].path)
	s.False(got[1].hasTree)
	s.True(got[1].hasIndex)

	s.Equal("sub", got[2].path)
	s.Equal("sub/b.txt", got[3].path)
	s.True(got[3].hasTree && got[3].hasIndex)
	s.Equal(got[3].treeID, got[3].indexID)

	s.Equal("z.txt", got[4].path)
	s.True(got[4].hasTree)
	s.False(got[4].hasIndex)
}

func (s *TreeWalkSuite) TestWorktreeLevelMissingDirIsEmpty() {
	fs := memfs.New()
	lvl, err := NewWorktreeLevel(fs, "does-not-exist")
	s.Require().NoError(err)
	_, ok := lvl.Peek()
	s.False(ok)
}

func (s *TreeWalkSuite) TestWorktreeLevelListsFilesSorted() {
	fs := memfs.New()
	f, err := fs.Create("b.txt")
	s.Require().NoError(err)
	s.Require().NoError(f.Close())
	f, err = fs.Create("a.txt")
	s.Require().NoError(err)
	s.Require().NoError(f.Close())

	lvl, err := NewWorktreeLevel(fs, "")
	s.Require().NoError(err)
	name, ok := lvl.Peek()
	s.Require().True(ok)
	s.Equal("a.txt", name)
}
