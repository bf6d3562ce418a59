package wire

import (
	"bytes"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
	"github.com/git-core/gitcore/refs"
)

type AdvertiseSuite struct {
	suite.Suite
}

func TestAdvertiseSuite(t *testing.T) {
	suite.Run(t, new(AdvertiseSuite))
}

// writeLooseSymbolic and writeLooseHash write ref files directly into fs,
// the same fixture approach refs' own tests use, so refs.Open picks up a
// complete RefCache in one scan without needing BatchUpdate/Update at all.
func writeLooseSymbolic(fs billy.Filesystem, name, target refs.Name) error {
	f, err := fs.Create(string(name))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte("ref: " + string(target) + "\n"))
	return err
}

func writeLooseHash(fs billy.Filesystem, name refs.Name, id objid.ID) error {
	f, err := fs.Create(string(name))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(id.String() + "\n"))
	return err
}

func (s *AdvertiseSuite) TestBuildAdvertisementPeelsAnnotatedTag() {
	store := newFakeStore()

	treeID := store.putTree(&object.Tree{Entries: nil})

	commitID := store.putCommit(&object.Commit{
		TreeID:    treeID,
		Author:    testSig(1700000000),
		Committer: testSig(1700000000),
		Message:   "initial\n",
	})

	tagID := store.putTag(&object.Tag{
		ObjectID:   commitID,
		ObjectType: object.CommitType,
		Name:       "v1.0",
		Tagger:     testSig(1700000100),
		Message:    "release\n",
	})

	fs := memfs.New()
	s.Require().NoError(fs.MkdirAll("refs/heads", 0o777))
	s.Require().NoError(fs.MkdirAll("refs/tags", 0o777))
	s.Require().NoError(writeLooseHash(fs, "refs/heads/main", commitID))
	s.Require().NoError(writeLooseHash(fs, "refs/tags/v1.0", tagID))
	s.Require().NoError(writeLooseSymbolic(fs, refs.HEAD, "refs/heads/main"))

	db, err := refs.Open(fs, nil)
	s.Require().NoError(err)

	adv, err := BuildAdvertisement(db.Snapshot(), store, "gitcore/1.0")
	s.Require().NoError(err)

	s.Require().NotNil(adv.Head)
	s.Equal(commitID, *adv.Head)
	s.Equal(commitID, adv.References["refs/heads/main"])
	s.Equal(tagID, adv.References["refs/tags/v1.0"])
	s.Equal(commitID, adv.Peeled["refs/tags/v1.0"])
	s.True(adv.Capabilities.Supports(SymRef))
	s.Equal([]string{"HEAD:refs/heads/main"}, adv.Capabilities.Get(SymRef))
	s.True(adv.Capabilities.Supports(Agent))
}

func (s *AdvertiseSuite) TestAdvertisementEncodeDecodeRoundTrip() {
	adv := NewAdvertisement()
	head := sampleID(1)
	adv.Head = &head
	adv.References["refs/heads/main"] = sampleID(1)
	adv.References["refs/tags/v1.0"] = sampleID(2)
	adv.Peeled["refs/tags/v1.0"] = sampleID(1)
	s.Require().NoError(adv.Capabilities.Add(OFSDelta))
	s.Require().NoError(adv.Capabilities.Add(Agent, "gitcore/1.0"))

	var buf bytes.Buffer
	s.Require().NoError(adv.Encode(&buf))

	got, err := DecodeAdvertisement(&buf)
	s.Require().NoError(err)

	s.Require().NotNil(got.Head)
	s.Equal(*adv.Head, *got.Head)
	s.Equal(adv.References, got.References)
	s.Equal(adv.Peeled, got.Peeled)
	s.True(got.Capabilities.Supports(OFSDelta))
	s.Equal([]string{"gitcore/1.0"}, got.Capabilities.Get(Agent))
}

func (s *AdvertiseSuite) TestEncodeEmptyAdvertisement() {
	adv := NewAdvertisement()
	s.Require().NoError(adv.Capabilities.Add(OFSDelta))

	var buf bytes.Buffer
	s.Require().NoError(adv.Encode(&buf))

	got, err := DecodeAdvertisement(&buf)
	s.Require().NoError(err)
	s.Nil(got.Head)
	s.Empty(got.References)
	s.True(got.Capabilities.Supports(OFSDelta))
}

func (s *AdvertiseSuite) TestDecodeAdvertisementRejectsEmptyInput() {
	_, err := DecodeAdvertisement(bytes.NewReader(nil))
	s.ErrorIs(err, ErrEmptyAdvertisement)
}

func (s *AdvertiseSuite) TestPeelTagFollowsTagOfTagChain() {
	store := newFakeStore()
	treeID := store.putTree(&object.Tree{})
	commitID := store.putCommit(&object.Commit{TreeID: treeID, Author: testSig(1700000200), Committer: testSig(1700000200), Message: "m\n"})
	inner := store.putTag(&object.Tag{ObjectID: commitID, ObjectType: object.CommitType, Name: "inner", Tagger: testSig(1700000201), Message: "inner\n"})
	outer := store.putTag(&object.Tag{ObjectID: inner, ObjectType: object.TagType, Name: "outer", Tagger: testSig(1700000202), Message: "outer\n"})

	id, ok, err := peelTag(store, outer)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(commitID, id)
}

func (s *AdvertiseSuite) TestPeelTagNonTagIsNoop() {
	store := newFakeStore()
	blobID := store.putBlob("x")
	_, ok, err := peelTag(store, blobID)
	s.Require().NoError(err)
	s.False(ok)
}
