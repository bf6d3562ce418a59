package object

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object/filemode"
	"github.com/git-core/gitcore/objid"
)

// Entry is one (mode, name, id) triple inside a Tree, spec.md §3.
type Entry struct {
	Name string
	Mode filemode.FileMode
	ID   objid.ID
}

// Tree is the sorted sequence of directory entries for one path level,
// spec.md §3 "Tree". Entries are kept in on-disk sort order: Decode keeps
// the order a stored tree lists them in (it does not check it), and Sort
// puts trees assembled in memory (e.g. by a cache-tree writer) into it.
type Tree struct {
	Entries []Entry
}

// sortKey returns the byte key used to order tree entries: the raw name
// with an implicit trailing '/' for directory-like entries (Dir and
// Submodule), so "foo" sorts after "foo.txt" but before "foo/bar" would if
// it were flattened — this is what makes git's tree ordering differ from a
// plain sort of the entry names.
func sortKey(e Entry) []byte {
	if e.Mode == filemode.Dir || e.Mode == filemode.Submodule {
		return append([]byte(e.Name), '/')
	}
	return []byte(e.Name)
}

// Sort orders entries in canonical tree order.
func (t *Tree) Sort() {
	sort.Slice(t.Entries, func(i, j int) bool {
		return bytes.Compare(sortKey(t.Entries[i]), sortKey(t.Entries[j])) < 0
	})
}

// Find returns the entry named name, or false if absent. Entries must
// already be sorted.
func (t *Tree) Find(name string) (Entry, bool) {
	// Entries are ordered by sortKey: a file under its name, a directory
	// under name+"/", so both keys are searched.
	for _, key := range []string{name, name + "/"} {
		i := sort.Search(len(t.Entries), func(i int) bool {
			return bytes.Compare(sortKey(t.Entries[i]), []byte(key)) >= 0
		})
		if i < len(t.Entries) && t.Entries[i].Name == name {
			return t.Entries[i], true
		}
	}
	return Entry{}, false
}

// Encode writes the canonical tree object body: a stream of
// "<octal-mode> SP <name> NUL <20 raw id bytes>", in entry order. Entries
// are assumed already sorted; Encode does not re-sort, so that building a
// tree from an already-ordered source (e.g. the index) is not quadratic.
func (t *Tree) Encode(w io.Writer) error {
	for _, e := range t.Entries {
		if e.Mode.IsMalformed() {
			return gitkind.Newf(gitkind.Corrupt, "tree: malformed mode for %q", e.Name)
		}
		if _, err := fmt.Fprintf(w, "%s %s\x00", modeOctal(e.Mode), e.Name); err != nil {
			return err
		}
		if _, err := w.Write(e.ID.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func modeOctal(m filemode.FileMode) string {
	return strconv.FormatUint(uint64(m), 8)
}

// Decode parses a canonical tree object body.
func (t *Tree) Decode(r io.Reader) error {
	br := bufio.NewReader(r)
	t.Entries = nil
	for {
		modeAndName, err := br.ReadString(0)
		if err == io.EOF {
			break
		}
		if err != nil {
			return gitkind.Wrap(gitkind.Corrupt, err, "tree: reading entry header")
		}
		modeAndName = modeAndName[:len(modeAndName)-1] // drop the NUL

		sp := bytes.IndexByte([]byte(modeAndName), ' ')
		if sp < 0 {
			return gitkind.Newf(gitkind.Corrupt, "tree: missing space in entry header %q", modeAndName)
		}

		mode, err := filemode.New(modeAndName[:sp])
		if err != nil {
			return gitkind.Wrap(gitkind.Corrupt, err, "tree: invalid mode")
		}

		var raw [objid.Size]byte
		if _, err := io.ReadFull(br, raw[:]); err != nil {
			return gitkind.Wrap(gitkind.Corrupt, err, "tree: short id")
		}

		t.Entries = append(t.Entries, Entry{
			Name: modeAndName[sp+1:],
			Mode: mode,
			ID:   objid.FromBytes(raw[:]),
		})
	}
	return nil
}
