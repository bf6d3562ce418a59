// Package pack implements the pack stream codec described in spec.md §3
// "Pack" and §4.2 (C2): the 12-byte file header, the variable-length
// object-entry headers, delta application for both offset and reference
// deltas, and a streaming writer used by the ODB's Inserter to build new
// packs.
package pack

import (
	"bufio"
	"fmt"
	"io"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
)

// Signature is the 4-byte magic at the start of every pack file.
var Signature = [4]byte{'P', 'A', 'C', 'K'}

// Version is the only pack version this codec emits; version 3 streams are
// accepted for reading since they differ from v2 only in optional trailer
// extensions the core does not need to interpret.
const Version = 2

const (
	firstLengthBits = 4
	lengthBits      = 7
	maskFirstLength = 0x0F
	maskContinue    = 0x80
	maskLength      = 0x7F
	maskType        = 0x70
	typeShift       = 4
)

// Header is a 12-byte pack file header.
type Header struct {
	Version     uint32
	ObjectCount uint32
}

// ReadHeader reads and validates the 12-byte pack header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [12]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, gitkind.Wrap(gitkind.Corrupt, err, "pack: short header")
	}
	if string(buf[:4]) != string(Signature[:]) {
		return Header{}, gitkind.New(gitkind.Corrupt, "pack: bad signature")
	}
	version := be32(buf[4:8])
	if version != 2 && version != 3 {
		return Header{}, gitkind.Newf(gitkind.Unsupported, "pack: unsupported version %d", version)
	}
	return Header{Version: version, ObjectCount: be32(buf[8:12])}, nil
}

// WriteHeader writes a v2 pack header for count objects.
func WriteHeader(w io.Writer, count uint32) error {
	var buf [12]byte
	copy(buf[:4], Signature[:])
	putBE32(buf[4:8], Version)
	putBE32(buf[8:12], count)
	_, err := w.Write(buf[:])
	return err
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// EntryHeader is one object entry's header: its type (possibly a delta
// type), the declared uncompressed size, and, for deltas, the base
// reference.
type EntryHeader struct {
	Type       object.Type
	Size       int64
	OffsetBase int64    // valid when Type == OFSDeltaType: current-offset - OffsetBase is the base's offset
	RefBase    [20]byte // valid when Type == REFDeltaType
}

// ReadEntryHeader reads one object entry's header: the first byte packs
// bits 6:4 as the type and the low nibble plus continuation bytes as the
// size (little-endian 7-bit groups, spec.md §3 "Pack"), followed by an
// offset or reference base for delta types.
func ReadEntryHeader(br *bufio.Reader) (EntryHeader, error) {
	var eh EntryHeader

	b, err := br.ReadByte()
	if err != nil {
		return eh, gitkind.Wrap(gitkind.Corrupt, err, "pack: reading entry header")
	}

	typ := object.Type((b & maskType) >> typeShift)
	size := uint64(b & maskFirstLength)
	shift := uint(firstLengthBits)

	for b&maskContinue != 0 {
		b, err = br.ReadByte()
		if err != nil {
			return eh, gitkind.Wrap(gitkind.Corrupt, err, "pack: reading entry size")
		}
		size |= uint64(b&maskLength) << shift
		shift += lengthBits
	}

	eh.Type = typ
	eh.Size = int64(size)

	switch typ {
	case object.OFSDeltaType:
		off, err := readOffsetDelta(br)
		if err != nil {
			return eh, err
		}
		eh.OffsetBase = off
	case object.REFDeltaType:
		if _, err := io.ReadFull(br, eh.RefBase[:]); err != nil {
			return eh, gitkind.Wrap(gitkind.Corrupt, err, "pack: reading ref-delta base")
		}
	default:
		if !typ.Valid() {
			return eh, gitkind.Newf(gitkind.Corrupt, "pack: invalid entry type %d", typ)
		}
	}

	return eh, nil
}

// readOffsetDelta reads the variable-length negative offset used by an
// OFS_DELTA entry: a big-endian base-128 varint, continuation bit 0x80,
// with the git-specific "+1 per continuation byte" bias so that the same
// backoff value can never be encoded two different ways.
func readOffsetDelta(br *bufio.Reader) (int64, error) {
	b, err := br.ReadByte()
	if err != nil {
		return 0, gitkind.Wrap(gitkind.Corrupt, err, "pack: reading ofs-delta offset")
	}
	off := int64(b & 0x7F)
	for b&0x80 != 0 {
		b, err = br.ReadByte()
		if err != nil {
			return 0, gitkind.Wrap(gitkind.Corrupt, err, "pack: reading ofs-delta offset")
		}
		off = ((off + 1) << 7) | int64(b&0x7F)
	}
	return off, nil
}

// WriteEntryHeader writes a non-delta entry header.
func WriteEntryHeader(w io.Writer, t object.Type, size int64) error {
	if !t.Valid() {
		return fmt.Errorf("pack: invalid entry type %d", t)
	}
	b := byte(t) << typeShift
	sz := uint64(size)
	firstByte := b | byte(sz&maskFirstLength)
	sz >>= firstLengthBits

	if sz != 0 {
		firstByte |= maskContinue
	}
	if _, err := w.Write([]byte{firstByte}); err != nil {
		return err
	}
	for sz != 0 {
		b := byte(sz & maskLength)
		sz >>= lengthBits
		if sz != 0 {
			b |= maskContinue
		}
		if _, err := w.Write([]byte{b}); err != nil {
			return err
		}
	}
	return nil
}

// WriteOffsetDelta writes the base-128 negative-offset encoding used by an
// OFS_DELTA entry header.
func WriteOffsetDelta(w io.Writer, backoff int64) error {
	// Encode from the least-significant 7-bit group outward, then reverse,
	// undoing the "+1" bias readOffsetDelta applies on decode.
	var bytesOut []byte
	n := backoff
	bytesOut = append(bytesOut, byte(n&0x7F))
	n >>= 7
	for n != 0 {
		n--
		bytesOut = append(bytesOut, byte(n&0x7F)|0x80)
		n >>= 7
	}
	// reverse
	for i, j := 0, len(bytesOut)-1; i < j; i, j = i+1, j-1 {
		bytesOut[i], bytesOut[j] = bytesOut[j], bytesOut[i]
	}
	_, err := w.Write(bytesOut)
	return err
}
