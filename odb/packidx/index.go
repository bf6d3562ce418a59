// Package packidx implements the pack index formats described in spec.md
// §3 "Pack index" and §4.2: a 256-entry fan-out table over sorted object
// ids, giving O(log n) random access from an ObjectId to its offset inside
// the paired pack file.
package packidx

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/objid"
)

// Version selects the on-disk pack index format.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

var v2Magic = [4]byte{0xff, 0x74, 0x4f, 0x63}

const offset64Flag = uint32(1) << 31

// Entry is one object's index record.
type Entry struct {
	ID     objid.ID
	Offset int64
	CRC32  uint32 // zero for v1, which carries no CRCs
}

// Index is an in-memory pack index: a sorted-by-id array plus the 256-entry
// fan-out table used to bucket a binary search to the relevant byte-byte
// range (spec.md §3). This is a flatter representation than the teacher's
// per-bucket byte-chunk layout (DESIGN.md notes the simplification) but
// implements the identical external contract and on-disk formats.
type Index struct {
	Version          Version
	Fanout           [256]uint32
	Entries          []Entry // sorted by ID
	PackfileChecksum objid.ID
}

// New builds an Index (defaulting to V2) from an unsorted list of entries,
// as produced by a pack Writer's per-object callbacks.
func New(entries []Entry, packSum objid.ID) *Index {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID.Less(entries[j].ID) })

	idx := &Index{Version: V2, Entries: entries, PackfileChecksum: packSum}
	idx.rebuildFanout()
	return idx
}

func (idx *Index) rebuildFanout() {
	var b int
	for i := range idx.Fanout {
		for b < len(idx.Entries) && int(idx.Entries[b].ID.FirstByte()) <= i {
			b++
		}
		idx.Fanout[i] = uint32(b)
	}
}

// FindOffset resolves id to its pack offset via fan-out bucket + binary
// search, spec.md §4.1.
func (idx *Index) FindOffset(id objid.ID) (int64, bool) {
	lo, hi := idx.bucketRange(id.FirstByte())
	for lo < hi {
		mid := (lo + hi) / 2
		switch idx.Entries[mid].ID.Compare(id) {
		case 0:
			return idx.Entries[mid].Offset, true
		case -1:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// Has reports whether id is present in the index.
func (idx *Index) Has(id objid.ID) bool {
	_, ok := idx.FindOffset(id)
	return ok
}

func (idx *Index) bucketRange(firstByte byte) (lo, hi int) {
	if firstByte == 0 {
		lo = 0
	} else {
		lo = int(idx.Fanout[firstByte-1])
	}
	hi = int(idx.Fanout[firstByte])
	return
}

// SortedIDs returns the ids in ascending order (the input objid.FindAll
// expects); odb's packName hashes them to name a pack.
func (idx *Index) SortedIDs() []objid.ID {
	ids := make([]objid.ID, len(idx.Entries))
	for i, e := range idx.Entries {
		ids[i] = e.ID
	}
	return ids
}

// Count returns the number of indexed objects.
func (idx *Index) Count() int { return len(idx.Entries) }

// Decode parses a pack index stream, v1 or v2, auto-detected from the
// leading magic (spec.md §3).
func Decode(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "packidx: short header")
	}

	if magic == v2Magic {
		return decodeV2(br)
	}
	return decodeV1(magic, br)
}

func readFanout(r io.Reader) ([256]uint32, error) {
	var fanout [256]uint32
	var buf [4]byte
	for i := range fanout {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return fanout, gitkind.Wrap(gitkind.Corrupt, err, "packidx: short fanout table")
		}
		fanout[i] = binary.BigEndian.Uint32(buf[:])
	}
	return fanout, nil
}

func decodeV1(first4 [4]byte, br *bufio.Reader) (*Index, error) {
	// v1 has no magic: first4 bytes are already the start of the fanout
	// table's first entry.
	fanout, err := readFanoutWithFirst(first4, br)
	if err != nil {
		return nil, err
	}
	count := int(fanout[255])

	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		var rec [4 + objid.Size]byte
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "packidx: short v1 entry")
		}
		entries[i] = Entry{
			Offset: int64(binary.BigEndian.Uint32(rec[:4])),
			ID:     objid.FromBytes(rec[4:]),
		}
	}

	idx := &Index{Version: V1, Fanout: fanout, Entries: entries}
	if err := readTrailer(br, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func readFanoutWithFirst(first4 [4]byte, r io.Reader) ([256]uint32, error) {
	var fanout [256]uint32
	fanout[0] = binary.BigEndian.Uint32(first4[:])
	var buf [4]byte
	for i := 1; i < 256; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return fanout, gitkind.Wrap(gitkind.Corrupt, err, "packidx: short fanout table")
		}
		fanout[i] = binary.BigEndian.Uint32(buf[:])
	}
	return fanout, nil
}

func decodeV2(br *bufio.Reader) (*Index, error) {
	var verBuf [4]byte
	if _, err := io.ReadFull(br, verBuf[:]); err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "packidx: short version")
	}
	if binary.BigEndian.Uint32(verBuf[:]) != 2 {
		return nil, gitkind.New(gitkind.Unsupported, "packidx: unsupported v2 sub-version")
	}

	fanout, err := readFanout(br)
	if err != nil {
		return nil, err
	}
	count := int(fanout[255])

	ids := make([]objid.ID, count)
	for i := 0; i < count; i++ {
		var raw [objid.Size]byte
		if _, err := io.ReadFull(br, raw[:]); err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "packidx: short id array")
		}
		ids[i] = objid.FromBytes(raw[:])
	}

	crcs := make([]uint32, count)
	for i := 0; i < count; i++ {
		var b [4]byte
		if _, err := io.ReadFull(br, b[:]); err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "packidx: short crc array")
		}
		crcs[i] = binary.BigEndian.Uint32(b[:])
	}

	offsets32 := make([]uint32, count)
	var numLarge int
	for i := 0; i < count; i++ {
		var b [4]byte
		if _, err := io.ReadFull(br, b[:]); err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "packidx: short offset array")
		}
		offsets32[i] = binary.BigEndian.Uint32(b[:])
		if offsets32[i]&offset64Flag != 0 {
			numLarge++
		}
	}

	large := make([]uint64, numLarge)
	for i := 0; i < numLarge; i++ {
		var b [8]byte
		if _, err := io.ReadFull(br, b[:]); err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "packidx: short large-offset table")
		}
		large[i] = binary.BigEndian.Uint64(b[:])
	}

	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		var off int64
		if offsets32[i]&offset64Flag != 0 {
			off = int64(large[offsets32[i]&^offset64Flag])
		} else {
			off = int64(offsets32[i])
		}
		entries[i] = Entry{ID: ids[i], Offset: off, CRC32: crcs[i]}
	}

	idx := &Index{Version: V2, Fanout: fanout, Entries: entries}
	if err := readTrailer(br, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func readTrailer(r io.Reader, idx *Index) error {
	var trailer [objid.Size + objid.Size]byte
	n, err := io.ReadFull(r, trailer[:])
	if err != nil && n < objid.Size {
		return gitkind.Wrap(gitkind.Corrupt, err, "packidx: short trailer")
	}
	idx.PackfileChecksum = objid.FromBytes(trailer[:objid.Size])
	return nil
}
