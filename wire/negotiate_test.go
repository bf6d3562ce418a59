package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/object/filemode"
	"github.com/git-core/gitcore/objid"
	"github.com/git-core/gitcore/odb/pack"
)

type NegotiateSuite struct {
	suite.Suite
}

func TestNegotiateSuite(t *testing.T) {
	suite.Run(t, new(NegotiateSuite))
}

func (s *NegotiateSuite) TestUploadRequestEncodeDecodeRoundTrip() {
	req := NewUploadRequest()
	req.Wants = []objid.ID{sampleID(1), sampleID(2)}
	req.Shallows = []objid.ID{sampleID(3)}
	s.Require().NoError(req.Capabilities.Add(OFSDelta))
	s.Require().NoError(req.Capabilities.Add(MultiACK))

	var buf bytes.Buffer
	s.Require().NoError(req.Encode(&buf))

	got, err := DecodeUploadRequest(&buf)
	s.Require().NoError(err)
	s.Equal(req.Wants, got.Wants)
	s.Equal(req.Shallows, got.Shallows)
	s.True(got.Capabilities.Supports(OFSDelta))
	s.True(got.Capabilities.Supports(MultiACK))
}

func (s *NegotiateSuite) TestUploadRequestRejectsEmptyWants() {
	req := NewUploadRequest()
	var buf bytes.Buffer
	s.Error(req.Encode(&buf))
}

func (s *NegotiateSuite) TestUploadHavesDoneRoundTrip() {
	u := &UploadHaves{Haves: []objid.ID{sampleID(1)}, Done: true}
	var buf bytes.Buffer
	s.Require().NoError(u.Encode(&buf))

	got, err := DecodeUploadHaves(&buf)
	s.Require().NoError(err)
	s.Equal(u.Haves, got.Haves)
	s.True(got.Done)
}

func (s *NegotiateSuite) TestUploadHavesFlushTerminated() {
	u := &UploadHaves{Haves: []objid.ID{sampleID(1), sampleID(2)}}
	var buf bytes.Buffer
	s.Require().NoError(u.Encode(&buf))

	got, err := DecodeUploadHaves(&buf)
	s.Require().NoError(err)
	s.Equal(u.Haves, got.Haves)
	s.False(got.Done)
}

func (s *NegotiateSuite) TestNegotiatorMultiACKContinuesThenCommon() {
	var buf bytes.Buffer
	n := NewNegotiator(&buf, true)

	haveSet := map[objid.ID]bool{sampleID(1): true}
	done, err := n.Round(&UploadHaves{Haves: []objid.ID{sampleID(1), sampleID(2)}}, func(id objid.ID) bool { return haveSet[id] })
	s.Require().NoError(err)
	s.False(done)

	_, p, err := ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal("ACK "+sampleID(1).String()+" continue\n", string(p))

	done, err = n.Round(&UploadHaves{Done: true}, func(objid.ID) bool { return false })
	s.Require().NoError(err)
	s.True(done)

	_, p, err = ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal("ACK "+sampleID(1).String()+"\n", string(p))
}

func (s *NegotiateSuite) TestNegotiatorNoCommonSendsNAK() {
	var buf bytes.Buffer
	n := NewNegotiator(&buf, false)

	done, err := n.Round(&UploadHaves{Haves: []objid.ID{sampleID(1)}}, func(objid.ID) bool { return false })
	s.Require().NoError(err)
	s.False(done)

	_, p, err := ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal("NAK\n", string(p))
}

func (s *NegotiateSuite) TestNegotiatorSingleACKDoneWithNoCommonNAKs() {
	var buf bytes.Buffer
	n := NewNegotiator(&buf, false)

	done, err := n.Round(&UploadHaves{Done: true}, func(objid.ID) bool { return false })
	s.Require().NoError(err)
	s.True(done)

	_, p, err := ReadPacket(&buf)
	s.Require().NoError(err)
	s.Equal("NAK\n", string(p))
}

// packFixture builds a tiny two-commit history (root -> tip) in a
// fakeStore and returns the ids involved, for PackObjects tests.
func packFixture(store *fakeStore) (root, tip objid.ID, rootTree, tipTree objid.ID) {
	rootTree = store.putTree(&object.Tree{})
	root = store.putCommit(&object.Commit{TreeID: rootTree, Author: testSig(1), Committer: testSig(1), Message: "root\n"})

	blob := store.putBlob("content\n")
	tipTree = store.putTree(&object.Tree{Entries: []object.Entry{{Name: "file.txt", Mode: filemode.Regular, ID: blob}}})
	tip = store.putCommit(&object.Commit{TreeID: tipTree, ParentIDs: []objid.ID{root}, Author: testSig(2), Committer: testSig(2), Message: "tip\n"})
	return root, tip, rootTree, tipTree
}

func (s *NegotiateSuite) TestPackObjectsExcludesHaveAncestry() {
	store := newFakeStore()
	root, tip, rootTree, tipTree := packFixture(store)
	_ = rootTree

	var buf bytes.Buffer
	checksum, err := PackObjects(&buf, store, []objid.ID{tip}, []objid.ID{root})
	s.Require().NoError(err)
	s.False(checksum.IsZero())

	parsed, err := parsePackIDs(&buf)
	s.Require().NoError(err)

	s.Contains(parsed, tip)
	s.Contains(parsed, tipTree)
	s.NotContains(parsed, root)
	s.NotContains(parsed, rootTree)
}

func (s *NegotiateSuite) TestPackObjectsWithNoHavesIncludesEverything() {
	store := newFakeStore()
	root, tip, rootTree, tipTree := packFixture(store)

	var buf bytes.Buffer
	_, err := PackObjects(&buf, store, []objid.ID{tip}, nil)
	s.Require().NoError(err)

	parsed, err := parsePackIDs(&buf)
	s.Require().NoError(err)
	s.Contains(parsed, root)
	s.Contains(parsed, tip)
	s.Contains(parsed, rootTree)
	s.Contains(parsed, tipTree)
}

// idCollector is a pack.Observer that just records every object id Parse
// reconstructs, for asserting PackObjects' inclusion/exclusion behavior.
type idCollector struct {
	ids map[objid.ID]bool
}

func (c *idCollector) OnHeader(uint32) error { return nil }
func (c *idCollector) OnObject(obj pack.ParsedObject) error {
	c.ids[obj.ID] = true
	return nil
}
func (c *idCollector) OnFooter(objid.ID) error { return nil }

func parsePackIDs(r *bytes.Buffer) (map[objid.ID]bool, error) {
	collector := &idCollector{ids: map[objid.ID]bool{}}
	_, err := pack.Parse(bytes.NewReader(r.Bytes()), nil, collector)
	if err != nil {
		return nil, err
	}
	return collector.ids, nil
}

func (s *NegotiateSuite) TestAncestorClosureSkipsNonCommitRoots() {
	store := newFakeStore()
	blob := store.putBlob("x")
	seen, err := ancestorClosure(store, []objid.ID{blob})
	s.Require().NoError(err)
	s.Empty(seen)
}
