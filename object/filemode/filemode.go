// Package filemode defines the tree-entry modes named in spec.md §3
// ("Tree"): regular file, executable, symlink, gitlink and tree, plus the
// conversions to and from os.FileMode needed for POSIX/Windows parity
// (spec.md §1 Non-goals scope working-tree I/O to exactly that parity).
package filemode

import (
	"fmt"
	"os"
	"strconv"
)

// FileMode is the octal mode stored in a tree entry.
type FileMode uint32

const (
	Empty      FileMode = 0
	Dir        FileMode = 0o40000
	Regular    FileMode = 0o100644
	Deprecated FileMode = 0o100664
	Executable FileMode = 0o100755
	Symlink    FileMode = 0o120000
	Submodule  FileMode = 0o160000
)

// New parses the octal textual representation used in tree entries and in
// tools like "git diff-tree".
func New(s string) (FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return Empty, fmt.Errorf("filemode: malformed mode %q: %w", s, err)
	}
	return FileMode(n), nil
}

// String renders the mode the way tree entries do: six zero-padded octal
// digits.
func (m FileMode) String() string {
	return fmt.Sprintf("%06o", uint32(m))
}

// Bytes is the tree-entry encoding of the mode: unpadded octal digits (no
// leading zero), as written in the canonical tree object format.
func (m FileMode) Bytes() []byte {
	return []byte(strconv.FormatUint(uint64(m), 8))
}

// IsMalformed reports whether m doesn't correspond to any of the modes
// supported for tree entries.
func (m FileMode) IsMalformed() bool {
	switch m {
	case Dir, Regular, Deprecated, Executable, Symlink, Submodule:
		return false
	default:
		return true
	}
}

// IsRegular reports whether m denotes an ordinary, non-executable file.
func (m FileMode) IsRegular() bool {
	return m == Regular
}

// IsFile reports whether m denotes content addressable as a blob (regular,
// deprecated, executable or symlink) as opposed to a tree or gitlink.
func (m FileMode) IsFile() bool {
	switch m {
	case Regular, Deprecated, Executable, Symlink:
		return true
	default:
		return false
	}
}

// NewFromOSFileMode converts an os.FileMode as returned by os.Stat into the
// closest git FileMode, tracking exactly the bits the spec calls out:
// directory, executable bit, symlink. All other permission bits are
// discarded, matching git's POSIX execute-bit-only model.
func NewFromOSFileMode(m os.FileMode) (FileMode, error) {
	if m.IsDir() {
		return Dir, nil
	}
	if m&os.ModeSymlink != 0 {
		return Symlink, nil
	}
	if !m.IsRegular() {
		if m&os.ModeSocket != 0 {
			return Empty, fmt.Errorf("filemode: sockets not supported")
		}
		if m&os.ModeNamedPipe != 0 {
			return Empty, fmt.Errorf("filemode: named pipes not supported")
		}
		if m&os.ModeDevice != 0 {
			return Empty, fmt.Errorf("filemode: devices not supported")
		}
		if m&os.ModeCharDevice != 0 {
			return Empty, fmt.Errorf("filemode: char devices not supported")
		}
		if m&os.ModeIrregular != 0 {
			return Empty, fmt.Errorf("filemode: irregular files not supported")
		}
	}
	if m&0o111 != 0 {
		return Executable, nil
	}
	return Regular, nil
}

// ToOSFileMode converts m to the equivalent os.FileMode, the inverse of
// NewFromOSFileMode, used when materialising a tree entry onto a real
// filesystem during checkout.
func (m FileMode) ToOSFileMode() (os.FileMode, error) {
	switch m {
	case Dir:
		return os.ModePerm | os.ModeDir, nil
	case Symlink:
		return os.ModePerm | os.ModeSymlink, nil
	case Executable:
		return 0o755, nil
	case Regular, Deprecated:
		return 0o644, nil
	case Submodule:
		return os.ModePerm | os.ModeDir, nil
	default:
		return 0, fmt.Errorf("filemode: invalid mode %s", m)
	}
}
