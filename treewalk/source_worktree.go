package treewalk

import (
	"os"
	"sort"

	billy "github.com/go-git/go-billy/v5"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object/filemode"
)

// WorktreeLevel adapts one directory of the actual working tree to Level,
// for checkout/status to compare against the Index and tree sources at
// the same path. Object ids are never computed here (that would mean
// hashing every file just to list a directory) — Entry.ID is always
// objid.Zero for worktree entries; callers that need content identity
// hash on demand only for paths the walk actually flags as possibly
// dirty, the same lazy-hashing trade the index's racy-clean smudge
// protocol (index/racy.go) makes for the same reason.
type WorktreeLevel struct {
	fs       billy.Filesystem
	dir      string
	children []os.FileInfo
	pos      int
}

// NewWorktreeLevel starts a Level at dir (use "" for the worktree root).
// A dir that doesn't exist yields an empty Level rather than an error,
// matching "empty iterator for trees that lack the path".
func NewWorktreeLevel(fs billy.Filesystem, dir string) (*WorktreeLevel, error) {
	infos, err := fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &WorktreeLevel{fs: fs, dir: dir}, nil
		}
		return nil, gitkind.Wrap(gitkind.IoError, err, "treewalk: reading "+dir)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return &WorktreeLevel{fs: fs, dir: dir, children: infos}, nil
}

func (l *WorktreeLevel) Peek() (string, bool) {
	if l.pos >= len(l.children) {
		return "", false
	}
	return l.children[l.pos].Name(), true
}

func (l *WorktreeLevel) Current() *Entry {
	if l.pos >= len(l.children) {
		return nil
	}
	fi := l.children[l.pos]
	mode, err := filemode.NewFromOSFileMode(fi.Mode())
	if err != nil {
		mode = filemode.Regular
	}
	return &Entry{Mode: mode}
}

func (l *WorktreeLevel) Advance() error {
	if l.pos < len(l.children) {
		l.pos++
	}
	return nil
}

func (l *WorktreeLevel) Enter() (Level, error) {
	if l.pos >= len(l.children) || !l.children[l.pos].IsDir() {
		return emptyLevel{}, nil
	}
	child := l.dir + "/" + l.children[l.pos].Name()
	if l.dir == "" {
		child = l.children[l.pos].Name()
	}
	return NewWorktreeLevel(l.fs, child)
}
