// Racy-clean protocol, spec.md §4.5: an index write can't trust a file's
// mtime to mean "unchanged" if that mtime falls in the same filesystem
// timestamp tick as the write itself — a second write landing in that same
// tick would be invisible to a future comparison. Git's answer is to
// "smudge" (zero the recorded size of) any entry written in or after the
// flush's own one-second tick, then let a later read reclassify it as clean by
// falling back to a content-hash comparison.
package index

import (
	"fmt"
	"io"
	"time"

	billy "github.com/go-git/go-billy/v5"

	"github.com/git-core/gitcore/objid"
)

// Smudge zeroes the recorded Size of every entry whose ModifiedAt is at or
// after the whole second of snapshot, the wall-clock instant sampled just
// before the index was flushed. Call this immediately before Encode.
func Smudge(idx *Index, snapshot time.Time) {
	tick := snapshot.Truncate(time.Second)
	for _, e := range idx.Entries {
		if !e.ModifiedAt.Before(tick) {
			e.Size = 0
		}
	}
}

// ReclassifySmudged re-stats and re-hashes every currently smudged entry
// against fs; an entry whose worktree content still hashes to e.ID has its
// Size and ModifiedAt refreshed from the filesystem, clearing the smudge.
// Entries that are missing, unreadable, or whose content no longer matches
// are left untouched — status reporting (Missing/Modified) handles those.
func ReclassifySmudged(idx *Index, fs billy.Filesystem) error {
	for _, e := range idx.Entries {
		if !e.Smudged() || e.Stage != Merged {
			continue
		}

		fi, err := fs.Stat(e.Name)
		if err != nil {
			continue
		}

		f, err := fs.Open(e.Name)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			continue
		}

		if hashBlob(data) != e.ID {
			continue
		}

		e.Size = uint32(fi.Size())
		e.ModifiedAt = fi.ModTime()
	}
	return nil
}

func hashBlob(data []byte) objid.ID {
	h := objid.NewHasher()
	fmt.Fprintf(h, "blob %d\x00", len(data))
	h.Write(data)
	return objid.FromBytes(h.Sum(nil))
}
