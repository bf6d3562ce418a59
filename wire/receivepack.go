package wire

import (
	"io"
	"strings"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/objid"
	"github.com/git-core/gitcore/refs"
)

// Command is one requested reference change from a receive-pack command
// list, "old new name\0caps" on the first line and "old new name" on
// the rest, spec.md §4.11 "Receive-pack ingest".
type Command struct {
	Name refs.Name
	Old  objid.ID
	New  objid.ID
}

func (c Command) validate() error {
	if c.Old.IsZero() && c.New.IsZero() {
		return gitkind.Newf(gitkind.ProtocolError, "wire: command for %s has neither old nor new id", c.Name)
	}
	return nil
}

// ReceivePackRequest is the fully-decoded command list a push sends
// before its pack stream.
type ReceivePackRequest struct {
	Commands     []Command
	Capabilities *CapabilityList
	Shallow      *objid.ID
}

var errEmptyCommands = gitkind.New(gitkind.ProtocolError, "wire: receive-pack request has no commands")

const shallowCmdPrefix = "shallow "

// DecodeReceivePackRequest reads the command list (and optional leading
// shallow line) up to its terminating flush-pkt. The caller reads the
// pack stream, if any, separately from the same connection afterward.
func DecodeReceivePackRequest(r io.Reader) (*ReceivePackRequest, error) {
	req := &ReceivePackRequest{Capabilities: NewCapabilityList()}

	_, p, err := ReadPacket(r)
	if err != nil {
		if err == io.EOF {
			return nil, errEmptyCommands
		}
		return nil, err
	}
	line := strings.TrimSuffix(string(p), "\n")

	if strings.HasPrefix(line, shallowCmdPrefix) {
		id, err := objid.FromHex(strings.TrimSpace(line[len(shallowCmdPrefix):]))
		if err != nil {
			return nil, gitkind.Wrap(gitkind.ProtocolError, err, "wire: invalid shallow id")
		}
		req.Shallow = &id

		_, p, err = ReadPacket(r)
		if err != nil {
			return nil, err
		}
		line = strings.TrimSuffix(string(p), "\n")
	}

	first := true
	for {
		body := line
		if first {
			if nul := strings.IndexByte(line, 0); nul >= 0 {
				body = line[:nul]
				if err := req.Capabilities.Decode([]byte(line[nul+1:])); err != nil {
					return nil, err
				}
			}
			first = false
		}

		cmd, err := parseCommandLine(body)
		if err != nil {
			return nil, err
		}
		req.Commands = append(req.Commands, cmd)

		l, p, err := ReadPacket(r)
		if err != nil {
			return nil, err
		}
		if l == FlushLen {
			break
		}
		line = strings.TrimSuffix(string(p), "\n")
	}

	if len(req.Commands) == 0 {
		return nil, errEmptyCommands
	}
	for _, c := range req.Commands {
		if err := c.validate(); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func parseCommandLine(line string) (Command, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return Command{}, gitkind.Newf(gitkind.ProtocolError, "wire: malformed command line %q", line)
	}
	oldID, err := objid.FromHex(fields[0])
	if err != nil {
		return Command{}, gitkind.Wrap(gitkind.ProtocolError, err, "wire: invalid old id")
	}
	newID, err := objid.FromHex(fields[1])
	if err != nil {
		return Command{}, gitkind.Wrap(gitkind.ProtocolError, err, "wire: invalid new id")
	}
	return Command{Name: refs.Name(fields[2]), Old: oldID, New: newID}, nil
}

// Encode writes req the way a pushing client does: the first command
// line carries capabilities after a NUL, every subsequent line is bare,
// terminated by a flush-pkt.
func (req *ReceivePackRequest) Encode(w io.Writer) error {
	if len(req.Commands) == 0 {
		return errEmptyCommands
	}
	if req.Shallow != nil {
		if _, err := WritePacketln(w, shallowCmdPrefix+req.Shallow.String()); err != nil {
			return err
		}
	}
	for i, c := range req.Commands {
		line := c.Old.String() + " " + c.New.String() + " " + string(c.Name)
		if i == 0 && !req.Capabilities.IsEmpty() {
			line += "\x00" + req.Capabilities.String()
		}
		if _, err := WritePacketln(w, line); err != nil {
			return err
		}
	}
	return WriteFlush(w)
}

// CommandStatus is one line of a receive-pack ReportStatus: "ok <name>"
// or "ng <name> <reason>".
type CommandStatus struct {
	Name   refs.Name
	Status string // "ok", or the rejection reason
}

func (cs CommandStatus) ok() bool { return cs.Status == "ok" }

// ReportStatus is the response a receive-pack sends back when the
// report-status capability was negotiated, spec.md §4.6's result codes
// rendered onto the wire.
type ReportStatus struct {
	UnpackStatus string // "ok", or the reason the pack failed to apply
	Commands     []CommandStatus
}

// Encode writes the unpack line, one command line per result, and a
// terminating flush-pkt.
func (s *ReportStatus) Encode(w io.Writer) error {
	if _, err := WritePacketln(w, "unpack "+s.UnpackStatus); err != nil {
		return err
	}
	for _, cs := range s.Commands {
		line := "ok " + string(cs.Name)
		if !cs.ok() {
			line = "ng " + string(cs.Name) + " " + cs.Status
		}
		if _, err := WritePacketln(w, line); err != nil {
			return err
		}
	}
	return WriteFlush(w)
}

// resultStatus renders a refs.CommandResult as the wire-level status
// word a ReportStatus line carries, spec.md §4.6.
func resultStatus(r refs.CommandResult) string {
	switch r {
	case refs.OK:
		return "ok"
	case refs.RejectedNonFastForward:
		return "non-fast-forward"
	case refs.RejectedNoCreate:
		return "deny creating a ref"
	case refs.RejectedNoDelete:
		return "deny deleting a ref"
	case refs.RejectedMissingObject:
		return "missing necessary objects"
	case refs.CommandLockFailure:
		return "failed to lock"
	case refs.NotAttempted:
		return "transaction aborted"
	default:
		return "unspecified error"
	}
}

// PreReceiveHook runs before a receive-pack's commands are applied. It
// may veto the whole push by returning an error, spec.md §4.11's
// "pre-receive hook chain call-through".
type PreReceiveHook func(cmds []Command) error

// ReceivePackOptions configures one ReceivePack ingest.
type ReceivePackOptions struct {
	PreReceive PreReceiveHook
	Atomic     bool
	Force      bool // skip the fast-forward check for every command
}

// PackIngester is the subset of odb.Store a receive-pack ingest needs:
// writing the incoming pack stream into the object database before any
// ref is moved.
type PackIngester interface {
	IngestPack(r io.Reader) (objid.ID, error)
}

// RefUpdater is the subset of refs.RefDatabase a receive-pack ingest
// needs to apply its command list as one batch.
type RefUpdater interface {
	BatchUpdate(cmds []refs.Command, opts refs.BatchOptions) ([]refs.CommandResult, error)
}

// ReceivePack runs one full receive-pack ingest, spec.md §4.11: the
// command list was already decoded by DecodeReceivePackRequest; pack is
// the raw packfile stream that followed it on the wire (nil if the push
// was ref-deletes only, which carries no pack). Every command is run
// through opts.PreReceive before anything is written, then applied as
// one refs.BatchUpdate, classifying each result per spec.md §4.6.
func ReceivePack(req *ReceivePackRequest, pack io.Reader, store PackIngester, db RefUpdater, opts ReceivePackOptions) (*ReportStatus, error) {
	status := &ReportStatus{UnpackStatus: "ok"}

	if opts.PreReceive != nil {
		if err := opts.PreReceive(req.Commands); err != nil {
			status.UnpackStatus = err.Error()
			for _, c := range req.Commands {
				status.Commands = append(status.Commands, CommandStatus{Name: c.Name, Status: "pre-receive hook declined"})
			}
			return status, nil
		}
	}

	if pack != nil {
		if _, err := store.IngestPack(pack); err != nil {
			status.UnpackStatus = "failed to ingest pack"
			for _, c := range req.Commands {
				status.Commands = append(status.Commands, CommandStatus{Name: c.Name, Status: "n/a (pack ingest failed)"})
			}
			return status, err
		}
	}

	cmds := make([]refs.Command, len(req.Commands))
	for i, c := range req.Commands {
		cmds[i] = refs.Command{Name: c.Name, OldID: c.Old, NewID: c.New, Force: opts.Force}
	}

	results, err := db.BatchUpdate(cmds, refs.BatchOptions{Atomic: opts.Atomic})
	if err != nil {
		return status, err
	}

	for i, c := range req.Commands {
		status.Commands = append(status.Commands, CommandStatus{Name: c.Name, Status: resultStatus(results[i])})
	}
	return status, nil
}

// ReceivePackSession runs one full push over a connection: it decodes
// the command list from r, reads the pack that follows (r itself, since
// receive-pack's incoming pack is never side-band muxed — only the
// server's replies are), applies it, and writes a ReportStatus back to
// w if the client negotiated report-status, side-band muxing that
// response when side-band-64k was also negotiated.
func ReceivePackSession(r io.Reader, w io.Writer, store PackIngester, db RefUpdater, opts ReceivePackOptions) error {
	req, err := DecodeReceivePackRequest(r)
	if err != nil {
		return err
	}

	hasPack := false
	for _, c := range req.Commands {
		if !c.New.IsZero() {
			hasPack = true
			break
		}
	}
	var packReader io.Reader
	if hasPack {
		packReader = r
	}

	status, err := ReceivePack(req, packReader, store, db, opts)
	if err != nil && status == nil {
		return err
	}

	if !req.Capabilities.Supports(ReportStatusCap) {
		return err
	}

	if req.Capabilities.Supports(SideBand64k) {
		mux := NewMuxer(w, true)
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(status.Encode(pw))
		}()
		buf := make([]byte, 32*1024)
		for {
			n, rerr := pr.Read(buf)
			if n > 0 {
				if _, werr := mux.WritePack(buf[:n]); werr != nil {
					return werr
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return rerr
			}
		}
		return WriteFlush(w)
	}

	return status.Encode(w)
}
