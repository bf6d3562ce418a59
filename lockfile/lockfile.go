// Package lockfile implements git's lockfile protocol (spec.md §4.4, C4):
// a path is claimed by exclusively creating "<path>.lock", written to, then
// published by renaming it over path. A reader never observes a half
// written file; a writer never observes two racing writers both succeed.
package lockfile

import (
	"os"
	"time"

	billy "github.com/go-git/go-billy/v5"

	"github.com/git-core/gitcore/internal/gitkind"
)

const lockSuffix = ".lock"

// StatPollInterval is the delay between WaitForStatChange polls, spec.md
// §4.4 ("sleeps in 25ms increments").
const StatPollInterval = 25 * time.Millisecond

// Policy controls Commit's durability and retry behaviour. The zero Policy
// neither fsyncs nor retries, matching git's default ref-update path; rename
// contention is rare enough on POSIX that callers only need retries on
// filesystems where rename-over-open-file can fail transiently.
type Policy struct {
	Fsync      bool
	MaxRetries int
	Backoff    time.Duration // doubled after each retry
}

// Lock holds an exclusively created "<path>.lock" file, open for writing,
// until Commit renames it into place or Unlock discards it.
type Lock struct {
	fs       billy.Filesystem
	path     string
	lockPath string
	file     billy.File
	done     bool
}

// Acquire exclusively creates path+".lock" (O_CREATE|O_EXCL, spec.md §4.4),
// failing with gitkind.LockFailure if a lock is already held.
func Acquire(fs billy.Filesystem, path string) (*Lock, error) {
	lockPath := path + lockSuffix

	f, err := fs.OpenFile(lockPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		if os.IsExist(err) {
			return nil, gitkind.Wrap(gitkind.LockFailure, err, "lockfile: already locked: "+lockPath)
		}
		return nil, gitkind.Wrap(gitkind.IoError, err, "lockfile: creating "+lockPath)
	}

	return &Lock{fs: fs, path: path, lockPath: lockPath, file: f}, nil
}

// File exposes the open lock file for writing the pending content.
func (l *Lock) File() billy.File { return l.file }

// Write is a convenience wrapper writing directly to the lock file.
func (l *Lock) Write(p []byte) (int, error) { return l.file.Write(p) }

// Commit optionally fsyncs the lock file, then atomically renames it over
// the original path, publishing the new content (spec.md §4.4 "commit").
// Under policy.MaxRetries > 0, a failing rename is retried with doubling
// backoff, for filesystems where renaming over an in-use file can fail
// transiently. After Commit, the Lock must not be used again.
func (l *Lock) Commit(policy Policy) (err error) {
	if policy.Fsync {
		if s, ok := l.file.(syncer); ok {
			if err := s.Sync(); err != nil {
				return gitkind.Wrap(gitkind.IoError, err, "lockfile: fsync "+l.lockPath)
			}
		}
	}

	defer func() {
		if cerr := l.file.Close(); cerr != nil && err == nil {
			err = gitkind.Wrap(gitkind.IoError, cerr, "lockfile: closing "+l.lockPath)
		}
	}()

	backoff := policy.Backoff
	for attempt := 0; ; attempt++ {
		err = l.fs.Rename(l.lockPath, l.path)
		if err == nil {
			break
		}
		if attempt >= policy.MaxRetries {
			return gitkind.Wrap(gitkind.LockFailure, err, "lockfile: committing "+l.path)
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	l.done = true
	return nil
}

// syncer is implemented by billy.File backends that can flush to stable
// storage (e.g. the OS filesystem adapter); in-memory backends simply don't
// satisfy it and Commit's fsync step is skipped.
type syncer interface {
	Sync() error
}

// Unlock closes and removes the lock file without publishing it (spec.md
// §4.4 "unlock"). Safe to call after a successful Commit (a no-op) or
// multiple times.
func (l *Lock) Unlock() error {
	if l.done {
		return nil
	}
	l.done = true

	closeErr := l.file.Close()
	removeErr := l.fs.Remove(l.lockPath)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return gitkind.Wrap(gitkind.IoError, removeErr, "lockfile: removing "+l.lockPath)
	}
	if closeErr != nil {
		return gitkind.Wrap(gitkind.IoError, closeErr, "lockfile: closing "+l.lockPath)
	}
	return nil
}

// WaitForStatChange polls path's mtime/size every StatPollInterval until it
// differs from prev or attempts are exhausted, used by callers that want to
// detect a stale competing lock being cleared without busy-spinning (spec.md
// §4.4 "stale lock recovery").
func WaitForStatChange(fs billy.Filesystem, path string, prev os.FileInfo, attempts int) (os.FileInfo, bool) {
	for i := 0; i < attempts; i++ {
		time.Sleep(StatPollInterval)
		fi, err := fs.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, true
			}
			continue
		}
		if prev == nil || fi.ModTime() != prev.ModTime() || fi.Size() != prev.Size() {
			return fi, true
		}
	}
	return prev, false
}
