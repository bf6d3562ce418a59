package packidx

import (
	"encoding/binary"
	"io"

	"github.com/git-core/gitcore/objid"
)

// Encode writes idx in the on-disk format matching idx.Version, followed by
// the index's own trailing SHA-1 checksum over everything preceding it
// (spec.md §3: "pack trailer + index trailer"). V1 is only ever produced
// when Version == V1 is requested explicitly by the caller (spec.md §4.2:
// "v1 only if all offsets fit in 32 bits and the caller opts in for
// compatibility"); New always builds V2.
func Encode(w io.Writer, idx *Index) error {
	h := objid.NewHasher()
	tee := io.MultiWriter(w, h)

	var err error
	if idx.Version == V1 {
		err = encodeV1(tee, idx)
	} else {
		err = encodeV2(tee, idx)
	}
	if err != nil {
		return err
	}

	_, err = w.Write(h.Sum(nil))
	return err
}

func encodeV1(w io.Writer, idx *Index) error {
	for _, v := range idx.Fanout {
		if err := writeBE32(w, v); err != nil {
			return err
		}
	}
	for _, e := range idx.Entries {
		if e.Offset > math32Max {
			return errOffsetTooLarge
		}
		if err := writeBE32(w, uint32(e.Offset)); err != nil {
			return err
		}
		if _, err := w.Write(e.ID.Bytes()); err != nil {
			return err
		}
	}
	if _, err := w.Write(idx.PackfileChecksum.Bytes()); err != nil {
		return err
	}
	return nil
}

func encodeV2(w io.Writer, idx *Index) error {
	if _, err := w.Write(v2Magic[:]); err != nil {
		return err
	}
	if err := writeBE32(w, 2); err != nil {
		return err
	}
	for _, v := range idx.Fanout {
		if err := writeBE32(w, v); err != nil {
			return err
		}
	}
	for _, e := range idx.Entries {
		if _, err := w.Write(e.ID.Bytes()); err != nil {
			return err
		}
	}
	for _, e := range idx.Entries {
		if err := writeBE32(w, e.CRC32); err != nil {
			return err
		}
	}

	var large []uint64
	for _, e := range idx.Entries {
		if e.Offset > math32Max {
			idxLarge := offset64Flag | uint32(len(large))
			large = append(large, uint64(e.Offset))
			if err := writeBE32(w, idxLarge); err != nil {
				return err
			}
			continue
		}
		if err := writeBE32(w, uint32(e.Offset)); err != nil {
			return err
		}
	}
	for _, v := range large {
		if err := writeBE64(w, v); err != nil {
			return err
		}
	}

	_, err := w.Write(idx.PackfileChecksum.Bytes())
	return err
}

const math32Max = int64(1)<<31 - 1

var errOffsetTooLarge = offsetTooLargeError{}

type offsetTooLargeError struct{}

func (offsetTooLargeError) Error() string {
	return "packidx: offset exceeds 32 bits, v1 index cannot represent it"
}

func writeBE32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeBE64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}
