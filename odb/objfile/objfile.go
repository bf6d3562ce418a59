// Package objfile implements the loose-object on-disk stream: the deflated
// "<type> <size>\0<content>" format described in spec.md §3 "Object", and
// written at objects/xx/yy... per §6.
package objfile

import (
	"bufio"
	"compress/zlib"
	"fmt"
	"io"
	"strconv"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
)

var (
	ErrOverflow     = gitkind.New(gitkind.Corrupt, "objfile: write exceeds declared size")
	ErrNegativeSize = gitkind.New(gitkind.Corrupt, "objfile: negative size")
)

// Reader reads a loose object stream: it inflates on the fly and computes
// the object's id as content is consumed, so Hash() is only valid once the
// stream has been fully read (and Close()d).
type Reader struct {
	zr     io.ReadCloser
	br     *bufio.Reader
	typ    object.Type
	size   int64
	read   int64
	hasher io.Writer
	sum    func() objid.ID
}

// NewReader opens a loose object stream. It does not parse the header;
// call Header() to do that.
func NewReader(r io.Reader) (*Reader, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, gitkind.Wrap(gitkind.Corrupt, err, "objfile: bad zlib stream")
	}
	return &Reader{zr: zr, br: bufio.NewReader(zr)}, nil
}

// Header reads and parses the "<type> <size>\0" header, returning the
// declared type and size.
func (r *Reader) Header() (object.Type, int64, error) {
	typLine, err := r.br.ReadString(' ')
	if err != nil {
		return 0, 0, gitkind.Wrap(gitkind.Corrupt, err, "objfile: reading type")
	}
	typ, err := object.ParseType(typLine[:len(typLine)-1])
	if err != nil {
		return 0, 0, err
	}

	sizeLine, err := r.br.ReadString(0)
	if err != nil {
		return 0, 0, gitkind.Wrap(gitkind.Corrupt, err, "objfile: reading size")
	}
	size, err := strconv.ParseInt(sizeLine[:len(sizeLine)-1], 10, 64)
	if err != nil {
		return 0, 0, gitkind.Wrap(gitkind.Corrupt, err, "objfile: bad size")
	}

	r.typ, r.size = typ, size

	h := objid.NewHasher()
	fmt.Fprintf(h, "%s %d\x00", typ, size)
	r.hasher = h
	r.sum = func() objid.ID {
		return objid.FromBytes(h.Sum(nil))
	}

	return typ, size, nil
}

// Read implements io.Reader over the object content, feeding bytes into
// the running hash as they're consumed.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.br.Read(p)
	if n > 0 {
		r.read += int64(n)
		r.hasher.Write(p[:n])
	}
	return n, err
}

// Hash returns the object id computed from the bytes read so far. Call
// after fully draining the Reader (e.g. via io.ReadAll) for a meaningful
// result.
func (r *Reader) Hash() objid.ID {
	if r.sum == nil {
		return objid.Zero
	}
	return r.sum()
}

// Close releases the underlying zlib reader.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// Writer writes a loose object stream: it deflates content written to it
// and accumulates the object's id as bytes are written.
type Writer struct {
	w        io.Writer
	zw       *zlib.Writer
	size     int64
	written  int64
	hasher   io.Writer
	sum      func() objid.ID
	headerOK bool
}

// NewWriter wraps w as a loose-object stream destination.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the "<type> <size>\0" header and must be called
// exactly once before any Write call.
func (w *Writer) WriteHeader(t object.Type, size int64) error {
	if !t.Valid() || t.IsDelta() {
		return errObjInvalidType
	}
	if size < 0 {
		return ErrNegativeSize
	}

	h := objid.NewHasher()
	fmt.Fprintf(h, "%s %d\x00", t, size)
	w.hasher = h
	w.sum = func() objid.ID {
		return objid.FromBytes(h.Sum(nil))
	}

	w.zw = zlib.NewWriter(w.w)
	if _, err := fmt.Fprintf(w.zw, "%s %d\x00", t, size); err != nil {
		return err
	}

	w.size = size
	w.headerOK = true
	return nil
}

var errObjInvalidType = gitkind.New(gitkind.Corrupt, "objfile: invalid object type")

// Write writes object content, deflating it and feeding the running hash.
// Writing past the declared size returns ErrOverflow.
func (w *Writer) Write(p []byte) (int, error) {
	overflow := w.written+int64(len(p)) > w.size
	if overflow {
		allowed := w.size - w.written
		if allowed < 0 {
			allowed = 0
		}
		p = p[:allowed]
	}

	n, err := w.zw.Write(p)
	if n > 0 {
		w.written += int64(n)
		w.hasher.Write(p[:n])
	}
	if err != nil {
		return n, err
	}
	if overflow {
		return n, ErrOverflow
	}
	return n, nil
}

// Hash returns the object id of everything written so far.
func (w *Writer) Hash() objid.ID {
	if w.sum == nil {
		return objid.Zero
	}
	return w.sum()
}

// Close flushes and closes the underlying zlib stream.
func (w *Writer) Close() error {
	if w.zw == nil {
		return nil
	}
	return w.zw.Close()
}
