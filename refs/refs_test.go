package refs

import (
	"bytes"
	"testing"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
)

type RefsSuite struct {
	suite.Suite
}

func TestRefsSuite(t *testing.T) {
	suite.Run(t, new(RefsSuite))
}

func sampleID(b byte) objid.ID {
	var raw [objid.Size]byte
	raw[0] = b
	return objid.FromBytes(raw[:])
}

func testSignature() object.Signature {
	return object.Signature{Name: "tester", Email: "t@example.com", When: time.Unix(1700000000, 0)}
}

// writeSymbolic writes a loose symbolic ref directly, bypassing Update
// (which only ever writes hash references), to set up fixtures.
func writeSymbolic(fs billy.Filesystem, name, target Name) error {
	if dir := parentDir(string(name)); dir != "." {
		if err := fs.MkdirAll(dir, 0o777); err != nil {
			return err
		}
	}
	f, err := fs.Create(string(name))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte("ref: " + string(target) + "\n"))
	return err
}

func (s *RefsSuite) TestParseReferenceHashAndSymbolic() {
	ref, err := parseReference("refs/heads/main", sampleID(1).String()+"\n")
	s.Require().NoError(err)
	s.True(ref.IsHash())
	s.Equal(sampleID(1), ref.ID())

	sym, err := parseReference(HEAD, "ref: refs/heads/main\n")
	s.Require().NoError(err)
	s.True(sym.IsSymbol())
	s.Equal(Name("refs/heads/main"), sym.Target())
}

func (s *RefsSuite) TestParseReferenceRejectsGarbage() {
	_, err := parseReference("refs/heads/main", "not-a-hash\n")
	s.Require().Error(err)
	s.True(gitkind.Is(err, gitkind.Corrupt))
}

func (s *RefsSuite) TestPackedRefsRoundTrip() {
	entries := []packedEntry{
		{ref: NewHashReference("refs/tags/v1", sampleID(1)), peeled: sampleID(2)},
		{ref: NewHashReference("refs/heads/main", sampleID(3))},
	}

	var buf bytes.Buffer
	s.Require().NoError(encodePackedRefs(&buf, entries))

	got, err := decodePackedRefs(&buf)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(Name("refs/heads/main"), got[0].ref.Name())
	s.Equal(Name("refs/tags/v1"), got[1].ref.Name())
	s.Equal(sampleID(2), got[1].peeled)
}

func (s *RefsSuite) TestUpdateClassifiesNewAndNoChange() {
	fs := memfs.New()
	db, err := Open(fs, nil)
	s.Require().NoError(err)
	sig := testSignature()

	result, err := db.Update(RefUpdate{Name: "refs/heads/main", NewID: sampleID(1), Signer: sig, Message: "commit: create"})
	s.Require().NoError(err)
	s.Equal(New, result)

	result, err = db.Update(RefUpdate{Name: "refs/heads/main", NewID: sampleID(1), Signer: sig, Message: "no-op"})
	s.Require().NoError(err)
	s.Equal(NoChange, result)
}

func (s *RefsSuite) TestUpdateRejectsNonFastForwardWithoutForce() {
	fs := memfs.New()
	db, err := Open(fs, nil)
	s.Require().NoError(err)
	sig := testSignature()

	_, err = db.Update(RefUpdate{Name: "refs/heads/main", NewID: sampleID(1), Signer: sig, Message: "create"})
	s.Require().NoError(err)

	result, err := db.Update(RefUpdate{Name: "refs/heads/main", NewID: sampleID(2), Signer: sig, Message: "move"})
	s.Require().NoError(err)
	s.Equal(Rejected, result)

	result, err = db.Update(RefUpdate{Name: "refs/heads/main", NewID: sampleID(2), Force: true, Signer: sig, Message: "force move"})
	s.Require().NoError(err)
	s.Equal(Forced, result)
}

func (s *RefsSuite) TestUpdateRejectsCompareAndSwapMismatch() {
	fs := memfs.New()
	db, err := Open(fs, nil)
	s.Require().NoError(err)
	sig := testSignature()

	_, err = db.Update(RefUpdate{Name: "refs/heads/main", NewID: sampleID(1), Signer: sig, Message: "create"})
	s.Require().NoError(err)

	wrong := sampleID(9)
	_, err = db.Update(RefUpdate{Name: "refs/heads/main", NewID: sampleID(2), ExpectOld: &wrong, Signer: sig, Message: "cas"})
	s.Require().Error(err)
}

func (s *RefsSuite) TestDereferenceFollowsSymbolicChain() {
	fs := memfs.New()
	db, err := Open(fs, nil)
	s.Require().NoError(err)
	sig := testSignature()

	_, err = db.Update(RefUpdate{Name: "refs/heads/main", NewID: sampleID(1), Signer: sig, Message: "create"})
	s.Require().NoError(err)

	s.Require().NoError(writeSymbolic(fs, HEAD, "refs/heads/main"))
	s.Require().NoError(db.refresh())

	ref, err := db.Dereference(HEAD)
	s.Require().NoError(err)
	s.Equal(sampleID(1), ref.ID())
}

func (s *RefsSuite) TestDereferenceDetectsCycle() {
	fs := memfs.New()
	s.Require().NoError(writeSymbolic(fs, "refs/heads/a", "refs/heads/b"))
	s.Require().NoError(writeSymbolic(fs, "refs/heads/b", "refs/heads/a"))

	db, err := Open(fs, nil)
	s.Require().NoError(err)

	_, err = db.Dereference("refs/heads/a")
	s.Require().Error(err)
	s.True(gitkind.Is(err, gitkind.Corrupt))
}

func (s *RefsSuite) TestBatchUpdateAtomicAbortsOnAnyRejection() {
	fs := memfs.New()
	db, err := Open(fs, nil)
	s.Require().NoError(err)

	cmds := []Command{
		{Name: "refs/heads/ok", OldID: objid.Zero, NewID: sampleID(1)},
		{Name: "refs/heads/bad", OldID: sampleID(5), NewID: sampleID(2)}, // OldID mismatch: ref doesn't exist
	}
	results, err := db.BatchUpdate(cmds, BatchOptions{Atomic: true})
	s.Require().NoError(err)
	s.Equal(NotAttempted, results[0])
	s.Equal(RejectedOtherReason, results[1])

	ref, err := db.Resolve("refs/heads/ok")
	s.Require().NoError(err)
	s.Nil(ref)
}

func (s *RefsSuite) TestBatchUpdateNonAtomicAppliesIndependently() {
	fs := memfs.New()
	db, err := Open(fs, nil)
	s.Require().NoError(err)

	cmds := []Command{
		{Name: "refs/heads/ok", OldID: objid.Zero, NewID: sampleID(1)},
		{Name: "refs/heads/bad", OldID: sampleID(5), NewID: sampleID(2)},
	}
	results, err := db.BatchUpdate(cmds, BatchOptions{})
	s.Require().NoError(err)
	s.Equal(OK, results[0])
	s.Equal(RejectedOtherReason, results[1])

	ref, err := db.Resolve("refs/heads/ok")
	s.Require().NoError(err)
	s.Require().NotNil(ref)
	s.Equal(sampleID(1), ref.ID())
}
