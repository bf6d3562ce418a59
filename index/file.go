package index

import (
	"os"
	"time"

	billy "github.com/go-git/go-billy/v5"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/lockfile"
)

// Load reads and decodes the index file at path.
func Load(fs billy.Filesystem, path string) (*Index, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, gitkind.Wrap(gitkind.IoError, err, "index: opening "+path)
	}
	defer f.Close()

	idx, err := Decode(f)
	if err != nil {
		return nil, err
	}
	if err := ReclassifySmudged(idx, fs); err != nil {
		return nil, err
	}
	return idx, nil
}

// Save smudges racily-clean entries, encodes idx, and commits it to path
// via the lockfile protocol (spec.md §4.5 "commit by writing to a
// lockfile... then renaming"). It returns the committed file's stat info
// so a caller can remember it for its own next racy-clean comparison.
func Save(fs billy.Filesystem, path string, idx *Index, policy lockfile.Policy) (os.FileInfo, error) {
	snapshot := time.Now()
	Smudge(idx, snapshot)

	lock, err := lockfile.Acquire(fs, path)
	if err != nil {
		return nil, err
	}
	if err := Encode(lock, idx); err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := lock.Commit(policy); err != nil {
		return nil, err
	}

	return fs.Stat(path)
}
