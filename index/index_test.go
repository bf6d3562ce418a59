package index

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/object/filemode"
	"github.com/git-core/gitcore/objid"
)

type IndexSuite struct {
	suite.Suite
}

func TestIndexSuite(t *testing.T) {
	suite.Run(t, new(IndexSuite))
}

func sampleID(b byte) objid.ID {
	var raw [objid.Size]byte
	raw[0] = b
	return objid.FromBytes(raw[:])
}

func (s *IndexSuite) TestRoundTripPreservesSortedEntries() {
	b := NewBuilder()
	b.Add(&Entry{Name: "b.txt", ID: sampleID(2), Mode: filemode.Regular})
	b.Add(&Entry{Name: "a.txt", ID: sampleID(1), Mode: filemode.Regular})
	b.Add(&Entry{Name: "a.txt", ID: sampleID(9), Mode: filemode.Regular, Stage: OurStage})
	idx := b.Finish()

	var buf bytes.Buffer
	s.Require().NoError(Encode(&buf, idx))

	got, err := Decode(bytes.NewReader(buf.Bytes()))
	s.Require().NoError(err)

	s.Require().Len(got.Entries, 3)
	s.Equal("a.txt", got.Entries[0].Name)
	s.Equal(Merged, got.Entries[0].Stage)
	s.Equal("a.txt", got.Entries[1].Name)
	s.Equal(OurStage, got.Entries[1].Stage)
	s.Equal("b.txt", got.Entries[2].Name)
}

func (s *IndexSuite) TestDecodeRejectsBadSignature() {
	_, err := Decode(bytes.NewReader([]byte("XXXX\x00\x00\x00\x02\x00\x00\x00\x00")))
	s.Require().Error(err)
	s.True(gitkind.Is(err, gitkind.Corrupt))
}

func (s *IndexSuite) TestUnknownLowercaseExtensionIsHardError() {
	var buf bytes.Buffer
	idx := New()
	s.Require().NoError(Encode(&buf, idx))

	// Splice a required (lowercase-signature) extension in before the
	// trailer: header(12) + 0 entries + trailer(20), no existing
	// extensions to skip past.
	raw := buf.Bytes()
	header := raw[:12]
	trailerStart := len(raw) - objid.Size

	var spliced bytes.Buffer
	spliced.Write(header)
	spliced.WriteString("zzzz")
	spliced.Write([]byte{0, 0, 0, 0}) // zero-length payload
	spliced.Write(raw[12:trailerStart])
	spliced.Write(raw[trailerStart:])

	_, err := Decode(bytes.NewReader(spliced.Bytes()))
	s.Require().Error(err)
	s.True(gitkind.Is(err, gitkind.Corrupt))
}

func (s *IndexSuite) TestEditorMergesInSortedOrder() {
	b := NewBuilder()
	b.Add(&Entry{Name: "a.txt", ID: sampleID(1)})
	b.Add(&Entry{Name: "c.txt", ID: sampleID(3)})
	idx := b.Finish()

	ed := NewEditor(idx)
	ed.PathEdit("b.txt", Merged, &Entry{Name: "b.txt", ID: sampleID(2)})
	ed.DeletePath("a.txt", Merged)
	ed.Finish()

	s.Require().Len(idx.Entries, 2)
	s.Equal("b.txt", idx.Entries[0].Name)
	s.Equal("c.txt", idx.Entries[1].Name)
}

func (s *IndexSuite) TestSmudgeAndReclassify() {
	fs := memfs.New()
	f, err := fs.Create("file.txt")
	s.Require().NoError(err)
	_, err = f.Write([]byte("hello"))
	s.Require().NoError(err)
	s.Require().NoError(f.Close())

	fi, err := fs.Stat("file.txt")
	s.Require().NoError(err)

	idx := New()
	idx.Entries = []*Entry{{
		Name: "file.txt", ID: hashBlob([]byte("hello")), Mode: filemode.Regular,
		Size: uint32(fi.Size()), ModifiedAt: fi.ModTime(),
	}}

	// Smudge as if the write raced the flush.
	Smudge(idx, fi.ModTime().Add(time.Nanosecond))
	s.True(idx.Entries[0].Smudged())

	s.Require().NoError(ReclassifySmudged(idx, fs))
	s.False(idx.Entries[0].Smudged())
	s.Equal(uint32(5), idx.Entries[0].Size)
}

type memPutter struct {
	objects map[objid.ID][]byte
}

func newMemPutter() *memPutter { return &memPutter{objects: map[objid.ID][]byte{}} }

func (p *memPutter) Put(t object.Type, data []byte) (objid.ID, error) {
	h := objid.NewHasher()
	h.Write([]byte(t.String()))
	h.Write(data)
	id := objid.FromBytes(h.Sum(nil))
	p.objects[id] = data
	return id, nil
}

func (s *IndexSuite) TestWriteTreeRejectsUnmergedEntries() {
	idx := New()
	idx.Entries = []*Entry{{Name: "a.txt", Stage: OurStage, ID: sampleID(1)}}

	_, err := idx.WriteTree(newMemPutter())
	s.Require().Error(err)
	s.True(gitkind.Is(err, gitkind.Unmerged))
}

func (s *IndexSuite) TestWriteTreeReusesValidCacheEntry() {
	idx := New()
	idx.Entries = []*Entry{
		{Name: "dir/a.txt", ID: sampleID(1), Mode: filemode.Regular},
		{Name: "dir/b.txt", ID: sampleID(2), Mode: filemode.Regular},
	}

	put := newMemPutter()
	rootID, err := idx.WriteTree(put)
	s.Require().NoError(err)
	s.Require().NotEqual(objid.Zero, rootID)

	dirEntry, ok := idx.Cache.indexOf("dir")
	s.Require().True(ok)
	s.Require().True(idx.Cache.Entries[dirEntry].valid())
	cachedDirID := idx.Cache.Entries[dirEntry].ID

	// A second write with the cache intact must reuse the cached subtree
	// rather than recomputing it: corrupt the putter's backing store for
	// that id and confirm WriteTree never asks it to rebuild.
	delete(put.objects, cachedDirID)
	rootID2, err := idx.WriteTree(put)
	s.Require().NoError(err)
	s.Equal(rootID, rootID2)
	s.NotContains(put.objects, cachedDirID)
}

func (s *IndexSuite) TestInvalidateMarksAncestorChain() {
	t := &Tree{}
	t.set(TreeEntry{Path: "", Count: 4, ID: sampleID(1)})
	t.set(TreeEntry{Path: "dir", Count: 2, ID: sampleID(2)})

	t.Invalidate("dir")

	root, _ := t.indexOf("")
	dir, _ := t.indexOf("dir")
	s.False(t.Entries[root].valid())
	s.False(t.Entries[dir].valid())
}
