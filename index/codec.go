package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object/filemode"
	"github.com/git-core/gitcore/objid"
)

var indexSignature = [4]byte{'D', 'I', 'R', 'C'}

const (
	entryHeaderLength = 62 // 10 uint32 fields + 20-byte id + 2-byte flags
	entryExtendedFlag = 0x4000
	entryAssumeValid  = 0x8000
	stageMask         = 0x3000
	nameMask          = 0x0fff

	intentToAddMask  = 1 << 13
	skipWorktreeMask = 1 << 14
)

// VersionMin/VersionMax bound the index versions Decode/Encode accept.
// spec.md §4.5 names "version (2 or 3)"; version 4's path-compression and
// varint-length name encoding is a pure on-disk optimisation with no
// semantic difference from version 3, so it's left unimplemented here
// (DESIGN.md records this as a deliberate scope cut, not an oversight).
const (
	VersionMin = 2
	VersionMax = 3
)

var treeExtSignature = [4]byte{'T', 'R', 'E', 'E'}

// Decode reads a complete DirCache file from r: header, sorted entries,
// zero or more extensions, and the trailing SHA-1 checksum (spec.md §4.5).
func Decode(r io.Reader) (*Index, error) {
	h := objid.NewHasher()
	buf := bufio.NewReader(r)
	tee := io.TeeReader(buf, h)

	var sig [4]byte
	if _, err := io.ReadFull(tee, sig[:]); err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading signature")
	}
	if sig != indexSignature {
		return nil, gitkind.New(gitkind.Corrupt, "index: bad signature")
	}

	version, err := readUint32(tee)
	if err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading version")
	}
	if version < VersionMin || version > VersionMax {
		return nil, gitkind.Newf(gitkind.Unsupported, "index: unsupported version %d", version)
	}

	count, err := readUint32(tee)
	if err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading entry count")
	}

	idx := &Index{Version: version}
	for i := uint32(0); i < count; i++ {
		e, err := decodeEntry(tee)
		if err != nil {
			return nil, err
		}
		idx.Entries = append(idx.Entries, e)
	}

	if err := decodeExtensions(buf, tee, h, idx); err != nil {
		return nil, err
	}

	return idx, nil
}

func decodeEntry(r io.Reader) (*Entry, error) {
	var fixed [10]uint32
	for i := range fixed {
		v, err := readUint32(r)
		if err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading entry header")
		}
		fixed[i] = v
	}

	var raw [objid.Size]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading entry id")
	}

	flags, err := readUint16(r)
	if err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading entry flags")
	}

	e := &Entry{
		Dev: fixed[4], Inode: fixed[5], Mode: filemode.FileMode(fixed[6]),
		UID: fixed[7], GID: fixed[8], Size: fixed[9],
		ID:          objid.FromBytes(raw[:]),
		AssumeValid: flags&entryAssumeValid != 0,
		Stage:       Stage((flags & stageMask) >> 12),
	}
	if fixed[0] != 0 || fixed[1] != 0 {
		e.CreatedAt = time.Unix(int64(fixed[0]), int64(fixed[1]))
	}
	if fixed[2] != 0 || fixed[3] != 0 {
		e.ModifiedAt = time.Unix(int64(fixed[2]), int64(fixed[3]))
	}

	read := entryHeaderLength
	if flags&entryExtendedFlag != 0 {
		ext, err := readUint16(r)
		if err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading extended flags")
		}
		read += 2
		e.IntentToAdd = ext&intentToAddMask != 0
		e.SkipWorktree = ext&skipWorktreeMask != 0
	}

	nameLen := int(flags & nameMask)
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading entry name")
	}
	e.Name = string(name)

	// Entries are NUL-terminated and then zero-padded out to the next
	// 8-byte boundary counting from the start of the fixed header.
	consumed := read + nameLen
	pad := 8 - consumed%8
	if _, err := io.CopyN(io.Discard, r, int64(pad)); err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading entry padding")
	}

	return e, nil
}

// decodeExtensions reads zero or more extensions followed by the trailing
// checksum. buf is the raw bufio.Reader (used to Peek without consuming,
// to detect "no more extensions, only the trailer left"); tee is the
// hash-accumulating reader entries/extensions are actually read through.
func decodeExtensions(buf *bufio.Reader, tee io.Reader, h interface{ Sum([]byte) []byte }, idx *Index) error {
	peekLen := 4 + 4 + objid.Size
	for {
		expected := h.Sum(nil)
		peeked, _ := buf.Peek(peekLen)
		if len(peeked) < peekLen {
			return readTrailer(tee, expected)
		}

		var sig [4]byte
		if _, err := io.ReadFull(tee, sig[:]); err != nil {
			return gitkind.Wrap(gitkind.Corrupt, err, "index: reading extension signature")
		}
		length, err := readUint32(tee)
		if err != nil {
			return gitkind.Wrap(gitkind.Corrupt, err, "index: reading extension length")
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(tee, payload); err != nil {
			return gitkind.Wrap(gitkind.Corrupt, err, "index: reading extension payload")
		}

		if err := applyExtension(sig, payload, idx); err != nil {
			return err
		}
	}
}

func applyExtension(sig [4]byte, payload []byte, idx *Index) error {
	if sig == treeExtSignature {
		t, err := decodeTree(payload)
		if err != nil {
			return err
		}
		idx.Cache = t
		return nil
	}

	// spec.md §4.5: an unrecognised extension whose first byte is
	// uppercase is optional and silently skipped; a lowercase first byte
	// means the reader must understand it, and not understanding it is a
	// hard error.
	if sig[0] < 'A' || sig[0] > 'Z' {
		return gitkind.Newf(gitkind.Corrupt, "index: unsupported required extension %q", sig)
	}
	return nil
}

func decodeTree(payload []byte) (*Tree, error) {
	t := &Tree{}
	r := bufio.NewReader(bytes.NewReader(payload))
	for {
		path, err := r.ReadString(0)
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading TREE entry path")
		}
		path = path[:len(path)-1]

		countStr, err := r.ReadString(' ')
		if err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading TREE entry count")
		}
		count, err := strconv.Atoi(countStr[:len(countStr)-1])
		if err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: bad TREE entry count")
		}

		treesStr, err := r.ReadString('\n')
		if err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading TREE entry subtree count")
		}
		subtrees, err := strconv.Atoi(treesStr[:len(treesStr)-1])
		if err != nil {
			return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: bad TREE entry subtree count")
		}

		te := TreeEntry{Path: path, Count: count, Subtrees: subtrees}
		if count >= 0 {
			var raw [objid.Size]byte
			if _, err := io.ReadFull(r, raw[:]); err != nil {
				return nil, gitkind.Wrap(gitkind.Corrupt, err, "index: reading TREE entry id")
			}
			te.ID = objid.FromBytes(raw[:])
		}
		t.Entries = append(t.Entries, te)
	}
}

func readTrailer(r io.Reader, expected []byte) error {
	var sum [objid.Size]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return gitkind.Wrap(gitkind.Corrupt, err, "index: reading checksum trailer")
	}
	if !bytes.Equal(sum[:], expected) {
		return gitkind.New(gitkind.Corrupt, "index: checksum mismatch")
	}
	return nil
}

// Encode writes idx in its on-disk DirCache form, sorting Entries first
// (spec.md §4.5's sort invariant is an on-disk contract, not merely an
// in-memory convention, so Encode enforces it rather than trusting
// callers).
func Encode(w io.Writer, idx *Index) error {
	if idx.Version < VersionMin || idx.Version > VersionMax {
		return gitkind.Newf(gitkind.Unsupported, "index: unsupported version %d", idx.Version)
	}
	idx.Sort()

	h := objid.NewHasher()
	mw := io.MultiWriter(w, h)

	if _, err := mw.Write(indexSignature[:]); err != nil {
		return err
	}
	if err := writeUint32(mw, idx.Version); err != nil {
		return err
	}
	if err := writeUint32(mw, uint32(len(idx.Entries))); err != nil {
		return err
	}

	for _, e := range idx.Entries {
		if err := encodeEntry(mw, e); err != nil {
			return err
		}
	}

	if idx.Cache != nil {
		payload := encodeTree(idx.Cache)
		if err := encodeExtension(mw, treeExtSignature, payload); err != nil {
			return err
		}
	}

	_, err := w.Write(h.Sum(nil))
	return err
}

func encodeEntry(w io.Writer, e *Entry) error {
	var sec, nsec, msec, mnsec uint32
	if !e.CreatedAt.IsZero() {
		sec, nsec = uint32(e.CreatedAt.Unix()), uint32(e.CreatedAt.Nanosecond())
	}
	if !e.ModifiedAt.IsZero() {
		msec, mnsec = uint32(e.ModifiedAt.Unix()), uint32(e.ModifiedAt.Nanosecond())
	}

	fixed := [10]uint32{sec, nsec, msec, mnsec, e.Dev, e.Inode, uint32(e.Mode), e.UID, e.GID, e.Size}
	for _, v := range fixed {
		if err := writeUint32(w, v); err != nil {
			return err
		}
	}

	if _, err := w.Write(e.ID.Bytes()); err != nil {
		return err
	}

	flags := uint16(e.Stage&0x3) << 12
	if e.AssumeValid {
		flags |= entryAssumeValid
	}
	nameLen := len(e.Name)
	if nameLen < nameMask {
		flags |= uint16(nameLen)
	} else {
		flags |= nameMask
	}

	read := entryHeaderLength
	extended := e.IntentToAdd || e.SkipWorktree
	if extended {
		flags |= entryExtendedFlag
	}
	if err := writeUint16(w, flags); err != nil {
		return err
	}
	if extended {
		var ext uint16
		if e.IntentToAdd {
			ext |= intentToAddMask
		}
		if e.SkipWorktree {
			ext |= skipWorktreeMask
		}
		if err := writeUint16(w, ext); err != nil {
			return err
		}
		read += 2
	}

	if _, err := io.WriteString(w, e.Name); err != nil {
		return err
	}

	consumed := read + nameLen
	pad := 8 - consumed%8
	_, err := w.Write(make([]byte, pad))
	return err
}

func encodeTree(t *Tree) []byte {
	var buf bytes.Buffer
	for _, e := range t.Entries {
		buf.WriteString(e.Path)
		buf.WriteByte(0)
		fmt.Fprintf(&buf, "%d %d\n", e.Count, e.Subtrees)
		if e.Count >= 0 {
			buf.Write(e.ID.Bytes())
		}
	}
	return buf.Bytes()
}

func encodeExtension(w io.Writer, sig [4]byte, payload []byte) error {
	if _, err := w.Write(sig[:]); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}
