// Package wire implements the pkt-line wire format and the packp-level
// message grammar layered on top of it: reference advertisement (with
// peeled tags), upload-pack want/have/ACK negotiation, and the
// receive-pack command stream, spec.md §4.11 (C11). It stops at wire
// semantics — no component here opens a network connection or runs a
// remote command; that is deliberately out of scope (spec.md §1's
// Non-goals).
package wire

import (
	"bufio"
	"fmt"
	"io"

	"github.com/git-core/gitcore/internal/gitkind"
)

// lenSize is the width of a pkt-line's length prefix: 4 ASCII hex digits,
// counting the prefix itself.
const lenSize = 4

// MaxPayloadSize is the largest payload a pkt-line may carry alongside its
// 4-byte length header, spec.md §6.
const MaxPayloadSize = 65516 - lenSize

// OversizePayloadMax additionally tolerates the handful of git servers
// that pad payloads out to a power-of-two pkt-line, same slack the
// teacher's pktline package allows.
const OversizePayloadMax = 65520 - lenSize

// Special pkt-line lengths. A flush-pkt ends a list of pkt-lines; a
// delim-pkt separates sections within one message (used by some v2
// grammars); a response-end-pkt terminates a full response.
const (
	FlushLen       = 0
	DelimLen       = 1
	ResponseEndLen = 2
)

var (
	flushBytes       = []byte("0000")
	delimBytes       = []byte("0001")
	responseEndBytes = []byte("0002")
)

// ErrorLine is a data pkt-line whose payload begins with the literal
// bytes "ERR ": by convention that terminates a session with a
// server-reported error instead of carrying data.
type ErrorLine struct {
	Text string
}

func (e ErrorLine) Error() string { return "remote error: " + e.Text }

const errPrefix = "ERR "

// ParseLength decodes a 4-byte ASCII hex pkt-line length header. It
// returns 0 for a flush-pkt and an error for anything shorter than the
// header itself or longer than the tolerated oversize payload.
func ParseLength(b []byte) (int, error) {
	if len(b) < lenSize {
		return 0, gitkind.Newf(gitkind.ProtocolError, "wire: pkt-line header too short: %d bytes", len(b))
	}
	var v int
	if _, err := fmt.Sscanf(string(b[:lenSize]), "%04x", &v); err != nil {
		return 0, gitkind.Newf(gitkind.ProtocolError, "wire: malformed pkt-line length %q", b[:lenSize])
	}
	if v == FlushLen || v == DelimLen || v == ResponseEndLen {
		return v, nil
	}
	if v <= lenSize {
		return 0, gitkind.Newf(gitkind.ProtocolError, "wire: pkt-line length %d too small", v)
	}
	if v > OversizePayloadMax+lenSize {
		return 0, gitkind.Newf(gitkind.ProtocolError, "wire: pkt-line length %d exceeds maximum", v)
	}
	return v - lenSize, nil
}

// ReadPacket reads one pkt-line from r. l reports which special pkt-line
// was read (FlushLen/DelimLen/ResponseEndLen) or the payload length for
// an ordinary data pkt-line; p is nil for a special pkt-line.
func ReadPacket(r io.Reader) (l int, p []byte, err error) {
	var hdr [lenSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, nil, err
	}

	n, err := ParseLength(hdr[:])
	if err != nil {
		return 0, nil, err
	}
	if n == FlushLen || n == DelimLen || n == ResponseEndLen {
		return n, nil, nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, gitkind.Wrap(gitkind.ProtocolError, err, "wire: short pkt-line payload")
	}
	if len(buf) >= len(errPrefix) && string(buf[:len(errPrefix)]) == errPrefix {
		return n, nil, ErrorLine{Text: string(buf[len(errPrefix):])}
	}
	return n, buf, nil
}

// ReadPacketString is ReadPacket with its payload decoded as a string.
func ReadPacketString(r io.Reader) (int, string, error) {
	l, p, err := ReadPacket(r)
	return l, string(p), err
}

// PeekPacket reports the next pkt-line without consuming it. br must be
// the same *bufio.Reader subsequent ReadPacket calls will use.
func PeekPacket(br *bufio.Reader) (l int, p []byte, err error) {
	hdr, err := br.Peek(lenSize)
	if err != nil {
		return 0, nil, err
	}
	n, err := ParseLength(hdr)
	if err != nil {
		return 0, nil, err
	}
	if n == FlushLen || n == DelimLen || n == ResponseEndLen {
		return n, nil, nil
	}
	full, err := br.Peek(lenSize + n)
	if err != nil {
		return 0, nil, err
	}
	return n, full[lenSize:], nil
}

// WritePacket writes p as one data pkt-line, including its 4-byte length
// header, and reports the total bytes written.
func WritePacket(w io.Writer, p []byte) (int, error) {
	if len(p) > OversizePayloadMax {
		return 0, gitkind.Newf(gitkind.ProtocolError, "wire: payload of %d bytes exceeds pkt-line maximum", len(p))
	}
	hdr := fmt.Sprintf("%04x", len(p)+lenSize)
	n, err := io.WriteString(w, hdr)
	if err != nil {
		return n, gitkind.Wrap(gitkind.IoError, err, "wire: writing pkt-line header")
	}
	m, err := w.Write(p)
	if err != nil {
		return n + m, gitkind.Wrap(gitkind.IoError, err, "wire: writing pkt-line payload")
	}
	return n + m, nil
}

// WritePacketString is WritePacket over a string payload.
func WritePacketString(w io.Writer, s string) (int, error) {
	return WritePacket(w, []byte(s))
}

// WritePacketf formats its arguments and writes the result as one
// pkt-line.
func WritePacketf(w io.Writer, format string, a ...interface{}) (int, error) {
	return WritePacketString(w, fmt.Sprintf(format, a...))
}

// WritePacketln is WritePacketString with a trailing newline appended,
// the convention most packp text lines use.
func WritePacketln(w io.Writer, s string) (int, error) {
	return WritePacketString(w, s+"\n")
}

// WriteErrorPacket writes an "ERR <msg>\n" data pkt-line, the convention
// a server uses to abort a session with an explanatory message instead
// of a flush.
func WriteErrorPacket(w io.Writer, format string, a ...interface{}) (int, error) {
	return WritePacketString(w, errPrefix+fmt.Sprintf(format, a...)+"\n")
}

// WriteFlush writes a flush-pkt.
func WriteFlush(w io.Writer) error {
	_, err := w.Write(flushBytes)
	if err != nil {
		return gitkind.Wrap(gitkind.IoError, err, "wire: writing flush-pkt")
	}
	return nil
}

// WriteDelim writes a delim-pkt.
func WriteDelim(w io.Writer) error {
	_, err := w.Write(delimBytes)
	if err != nil {
		return gitkind.Wrap(gitkind.IoError, err, "wire: writing delim-pkt")
	}
	return nil
}

// WriteResponseEnd writes a response-end-pkt.
func WriteResponseEnd(w io.Writer) error {
	_, err := w.Write(responseEndBytes)
	if err != nil {
		return gitkind.Wrap(gitkind.IoError, err, "wire: writing response-end-pkt")
	}
	return nil
}

// Writer wraps an io.Writer with the pkt-line operations as methods, for
// callers that prefer a stateful writer over the package-level
// functions (mirroring the teacher's pktline.Writer).
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer writing pkt-lines to w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (pw *Writer) Write(p []byte) (int, error)              { return WritePacket(pw.w, p) }
func (pw *Writer) WritePacket(p []byte) (int, error)         { return WritePacket(pw.w, p) }
func (pw *Writer) WritePacketString(s string) (int, error)   { return WritePacketString(pw.w, s) }
func (pw *Writer) WritePacketln(s string) (int, error)       { return WritePacketln(pw.w, s) }
func (pw *Writer) WritePacketf(f string, a ...interface{}) (int, error) {
	return WritePacketf(pw.w, f, a...)
}
func (pw *Writer) WriteFlush() error { return WriteFlush(pw.w) }
func (pw *Writer) WriteDelim() error { return WriteDelim(pw.w) }
func (pw *Writer) WriteError(format string, a ...interface{}) (int, error) {
	return WriteErrorPacket(pw.w, format, a...)
}
