package lockfile

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"

	"github.com/git-core/gitcore/internal/gitkind"
)

type LockfileSuite struct {
	suite.Suite
}

func TestLockfileSuite(t *testing.T) {
	suite.Run(t, new(LockfileSuite))
}

func (s *LockfileSuite) TestAcquireCommitPublishesContent() {
	fs := memfs.New()

	l, err := Acquire(fs, "refs/heads/main")
	s.Require().NoError(err)

	_, err = l.Write([]byte("deadbeef\n"))
	s.Require().NoError(err)

	s.Require().NoError(l.Commit(Policy{}))

	f, err := fs.Open("refs/heads/main")
	s.Require().NoError(err)
	defer f.Close()

	buf := make([]byte, 9)
	n, err := f.Read(buf)
	s.Require().NoError(err)
	s.Equal("deadbeef\n", string(buf[:n]))

	_, err = fs.Stat("refs/heads/main.lock")
	s.True(err != nil)
}

func (s *LockfileSuite) TestSecondAcquireFailsWhileHeld() {
	fs := memfs.New()

	l1, err := Acquire(fs, "refs/heads/main")
	s.Require().NoError(err)
	defer l1.Unlock()

	_, err = Acquire(fs, "refs/heads/main")
	s.Require().Error(err)
	s.True(gitkind.Is(err, gitkind.LockFailure))
}

func (s *LockfileSuite) TestUnlockRemovesLockFileWithoutPublishing() {
	fs := memfs.New()

	l, err := Acquire(fs, "refs/heads/main")
	s.Require().NoError(err)

	_, err = l.Write([]byte("content"))
	s.Require().NoError(err)
	s.Require().NoError(l.Unlock())

	_, err = fs.Stat("refs/heads/main")
	s.True(err != nil)
	_, err = fs.Stat("refs/heads/main.lock")
	s.True(err != nil)

	l2, err := Acquire(fs, "refs/heads/main")
	s.Require().NoError(err)
	s.Require().NoError(l2.Unlock())
}

func (s *LockfileSuite) TestCommitAfterUnlockIsRejected() {
	fs := memfs.New()

	l, err := Acquire(fs, "refs/heads/main")
	s.Require().NoError(err)
	s.Require().NoError(l.Unlock())

	err = l.Commit(Policy{})
	s.Require().Error(err)
}
