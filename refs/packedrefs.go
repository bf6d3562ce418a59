package refs

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/objid"
)

// packedEntry is one line of a packed-refs file: a reference plus, for an
// annotated tag, the commit id it peels to.
type packedEntry struct {
	ref    *Reference
	peeled objid.ID // zero if absent
}

// decodePackedRefs parses the "id name\n" format, with optional
// "^peeled-id\n" lines following an annotated tag (spec.md §4.6
// "Packed-refs").
func decodePackedRefs(r io.Reader) ([]packedEntry, error) {
	var entries []packedEntry

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		if line == "" {
			continue
		}
		switch line[0] {
		case '#':
			continue
		case '^':
			if len(entries) == 0 {
				return nil, gitkind.New(gitkind.Corrupt, "refs: packed-refs: peeled line with no preceding ref")
			}
			id, err := objid.FromHex(line[1:])
			if err != nil {
				return nil, gitkind.Wrap(gitkind.Corrupt, err, "refs: packed-refs: bad peeled id")
			}
			entries[len(entries)-1].peeled = id
		default:
			sp := strings.IndexByte(line, ' ')
			if sp < 0 {
				return nil, gitkind.New(gitkind.Corrupt, "refs: packed-refs: malformed line")
			}
			id, err := objid.FromHex(line[:sp])
			if err != nil {
				return nil, gitkind.Wrap(gitkind.Corrupt, err, "refs: packed-refs: bad id")
			}
			name := Name(line[sp+1:])
			entries = append(entries, packedEntry{ref: NewHashReference(name, id)})
		}
	}
	if err := s.Err(); err != nil {
		return nil, gitkind.Wrap(gitkind.IoError, err, "refs: reading packed-refs")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ref.name < entries[j].ref.name })
	return entries, nil
}

func encodePackedRefs(w io.Writer, entries []packedEntry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ref.name < entries[j].ref.name })

	if _, err := io.WriteString(w, "# pack-refs with: peeled fully-peeled sorted\n"); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s %s\n", e.ref.ID().String(), e.ref.name); err != nil {
			return err
		}
		if !e.peeled.IsZero() {
			if _, err := fmt.Fprintf(w, "^%s\n", e.peeled.String()); err != nil {
				return err
			}
		}
	}
	return nil
}
