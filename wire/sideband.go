package wire

import (
	"io"

	"github.com/git-core/gitcore/internal/gitkind"
)

// Channel is the first byte of a pkt-line payload multiplexed under the
// side-band/side-band-64k capability, spec.md §6.
type Channel byte

const (
	PackChannel     Channel = 1
	ProgressChannel Channel = 2
	FatalChannel    Channel = 3
)

// sideband64kMax is the largest payload side-band-64k allows per pkt-line,
// including the one-byte channel marker.
const sideband64kMax = 65516

// Muxer wraps one underlying connection with the three side-band
// channels, so a server can interleave pack bytes with human-readable
// progress text on one stream. Callers write to WritePack/WriteProgress;
// WriteFatal both writes and signals the session should end.
type Muxer struct {
	w       io.Writer
	maxData int
}

// NewMuxer returns a Muxer. sixtyFourK selects the larger side-band-64k
// chunk size; plain side-band is capped at 999 payload bytes.
func NewMuxer(w io.Writer, sixtyFourK bool) *Muxer {
	max := 999
	if sixtyFourK {
		max = sideband64kMax - 1
	}
	return &Muxer{w: w, maxData: max}
}

func (m *Muxer) writeChannel(ch Channel, p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > m.maxData {
			chunk = chunk[:m.maxData]
		}
		buf := make([]byte, len(chunk)+1)
		buf[0] = byte(ch)
		copy(buf[1:], chunk)
		if _, err := WritePacket(m.w, buf); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// WritePack sends p on the pack-data channel.
func (m *Muxer) WritePack(p []byte) (int, error) { return m.writeChannel(PackChannel, p) }

// WriteProgress sends p (typically one human-readable line) on the
// progress channel.
func (m *Muxer) WriteProgress(p []byte) (int, error) { return m.writeChannel(ProgressChannel, p) }

// WriteFatal sends a fatal error message on the error channel. The
// caller should stop writing and flush after this call.
func (m *Muxer) WriteFatal(p []byte) error {
	_, err := m.writeChannel(FatalChannel, p)
	return err
}

// Demuxer presents the pack-data channel of a side-band multiplexed
// stream as a plain io.Reader, forwarding progress lines to Progress as
// they arrive and surfacing a fatal-channel message as an error.
type Demuxer struct {
	r        io.Reader
	Progress io.Writer // nil discards progress text

	buf []byte // unread pack bytes from the most recently read pkt-line
}

// NewDemuxer wraps r, a stream of side-band multiplexed pkt-lines.
func NewDemuxer(r io.Reader, progress io.Writer) *Demuxer {
	return &Demuxer{r: r, Progress: progress}
}

// Read implements io.Reader over the pack-data channel only.
func (d *Demuxer) Read(p []byte) (int, error) {
	for len(d.buf) == 0 {
		l, payload, err := ReadPacket(d.r)
		if err != nil {
			return 0, err
		}
		if l == FlushLen {
			return 0, io.EOF
		}
		if len(payload) == 0 {
			continue
		}
		switch Channel(payload[0]) {
		case PackChannel:
			d.buf = payload[1:]
		case ProgressChannel:
			if d.Progress != nil {
				if _, err := d.Progress.Write(payload[1:]); err != nil {
					return 0, gitkind.Wrap(gitkind.IoError, err, "wire: writing progress")
				}
			}
		case FatalChannel:
			return 0, gitkind.Newf(gitkind.ProtocolError, "wire: remote fatal error: %s", payload[1:])
		default:
			return 0, gitkind.Newf(gitkind.ProtocolError, "wire: unknown side-band channel %d", payload[0])
		}
	}

	n := copy(p, d.buf)
	d.buf = d.buf[n:]
	return n, nil
}
