package pack

import (
	"compress/zlib"
	"hash/crc32"
	"io"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
	"github.com/git-core/gitcore/odb/packidx"
)

// Writer streams a sequence of whole objects into a new pack file, tracking
// each one's starting offset and CRC32 so the caller can build a matching
// packidx.Index afterward. WriteObject writes a full (non-delta) object; a
// caller that wants a deltified entry computes the delta itself (e.g. with
// DiffDelta) and calls WriteDelta, which uses the same framing (spec.md
// §4.2 "Writer contract").
type Writer struct {
	dst   io.Writer
	h     *IDHasher
	count uint32
	n     uint32
}

// NewWriter writes the 12-byte pack header (PACK, version 2, object count)
// to dst and returns a Writer ready to accept exactly count objects.
func NewWriter(dst io.Writer, count uint32) (*Writer, error) {
	h := newIDHasher()
	tee := io.MultiWriter(dst, h)
	if err := WriteHeader(tee, count); err != nil {
		return nil, err
	}
	return &Writer{dst: tee, h: h, count: count}, nil
}

// WriteObject appends one full (non-delta) object and returns the
// packidx.Entry describing where it landed, ready to feed into
// packidx.New.
func (w *Writer) WriteObject(id objid.ID, t object.Type, data []byte) (packidx.Entry, error) {
	if w.n >= w.count {
		return packidx.Entry{}, gitkind.New(gitkind.Corrupt, "pack: writer received more objects than declared")
	}
	offset := w.h.Written()

	crc := crc32Writer{w: w.dst}
	if err := WriteEntryHeader(&crc, t, int64(len(data))); err != nil {
		return packidx.Entry{}, err
	}

	zw := zlib.NewWriter(&crc)
	if _, err := zw.Write(data); err != nil {
		return packidx.Entry{}, gitkind.Wrap(gitkind.IoError, err, "pack: deflate failed")
	}
	if err := zw.Close(); err != nil {
		return packidx.Entry{}, gitkind.Wrap(gitkind.IoError, err, "pack: deflate close failed")
	}

	w.n++
	return packidx.Entry{ID: id, Offset: offset, CRC32: crc.sum.Sum32()}, nil
}

// WriteDelta appends one OFS_DELTA object whose base is the entry starting
// at pack offset baseOffset; the header records the distance from the new
// entry's own offset back to it.
func (w *Writer) WriteDelta(id objid.ID, baseOffset int64, delta []byte) (packidx.Entry, error) {
	if w.n >= w.count {
		return packidx.Entry{}, gitkind.New(gitkind.Corrupt, "pack: writer received more objects than declared")
	}
	offset := w.h.Written()

	crc := crc32Writer{w: w.dst}
	if err := WriteEntryHeader(&crc, object.OFSDeltaType, int64(len(delta))); err != nil {
		return packidx.Entry{}, err
	}
	if err := WriteOffsetDelta(&crc, offset-baseOffset); err != nil {
		return packidx.Entry{}, err
	}

	zw := zlib.NewWriter(&crc)
	if _, err := zw.Write(delta); err != nil {
		return packidx.Entry{}, gitkind.Wrap(gitkind.IoError, err, "pack: deflate failed")
	}
	if err := zw.Close(); err != nil {
		return packidx.Entry{}, gitkind.Wrap(gitkind.IoError, err, "pack: deflate close failed")
	}

	w.n++
	return packidx.Entry{ID: id, Offset: offset, CRC32: crc.sum.Sum32()}, nil
}

// Close writes the trailing pack checksum (SHA-1 over the header plus every
// object written so far) and returns it.
func (w *Writer) Close() (objid.ID, error) {
	if w.n != w.count {
		return objid.Zero, gitkind.Newf(gitkind.Corrupt, "pack: writer closed after %d of %d declared objects", w.n, w.count)
	}
	sum := objid.FromBytes(w.h.Sum(nil))
	if _, err := w.dst.Write(sum.Bytes()); err != nil {
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "pack: trailer write failed")
	}
	return sum, nil
}

// crc32Writer both forwards writes downstream and accumulates a CRC32 over
// them, matching the per-object CRC pack index v2 stores (spec.md §3).
type crc32Writer struct {
	w   io.Writer
	sum hashSum32
}

func (c *crc32Writer) Write(p []byte) (int, error) {
	c.sum.Write(p)
	return c.w.Write(p)
}

type hashSum32 struct {
	crc uint32
	set bool
}

func (h *hashSum32) Write(p []byte) {
	if !h.set {
		h.crc = crc32.ChecksumIEEE(p)
		h.set = true
		return
	}
	h.crc = crc32.Update(h.crc, crc32.IEEETable, p)
}

func (h *hashSum32) Sum32() uint32 { return h.crc }

// IDHasher wraps objid.NewHasher to also track the number of bytes written
// through it, giving the writer a running byte offset without needing a
// separate io.Seeker (pack destinations are frequently append-only temp
// files during ingest).
type IDHasher struct {
	h hasherWithSum
	n int64
}

type hasherWithSum interface {
	io.Writer
	Sum(b []byte) []byte
}

func newIDHasher() *IDHasher {
	return &IDHasher{h: objid.NewHasher()}
}

func (ih *IDHasher) Write(p []byte) (int, error) {
	n, err := ih.h.Write(p)
	ih.n += int64(n)
	return n, err
}

func (ih *IDHasher) Sum(b []byte) []byte { return ih.h.Sum(b) }

// Written returns the number of bytes written through the hasher so far.
func (ih *IDHasher) Written() int64 { return ih.n }
