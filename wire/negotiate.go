package wire

import (
	"bufio"
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/object/filemode"
	"github.com/git-core/gitcore/objid"
	"github.com/git-core/gitcore/odb/pack"
)

// UploadRequest is a client's initial fetch request: the objects it
// wants, with capabilities negotiated on the first want line, spec.md
// §4.11 "Fetch/upload".
type UploadRequest struct {
	Wants        []objid.ID
	Capabilities *CapabilityList
	Shallows     []objid.ID
}

// NewUploadRequest returns an empty UploadRequest.
func NewUploadRequest() *UploadRequest {
	return &UploadRequest{Capabilities: NewCapabilityList()}
}

const wantPrefix = "want "
const shallowPrefix = "shallow "

// Encode writes the want/shallow lines and terminating flush-pkt a
// client sends to open fetch negotiation.
func (u *UploadRequest) Encode(w io.Writer) error {
	if len(u.Wants) == 0 {
		return gitkind.New(gitkind.ProtocolError, "wire: upload-request with no wants")
	}
	first := wantPrefix + u.Wants[0].String()
	if !u.Capabilities.IsEmpty() {
		first += " " + u.Capabilities.String()
	}
	if _, err := WritePacketln(w, first); err != nil {
		return err
	}
	for _, id := range u.Wants[1:] {
		if _, err := WritePacketln(w, wantPrefix+id.String()); err != nil {
			return err
		}
	}
	for _, id := range u.Shallows {
		if _, err := WritePacketln(w, shallowPrefix+id.String()); err != nil {
			return err
		}
	}
	return WriteFlush(w)
}

// DecodeUploadRequest reads a client's want/shallow line list up to its
// terminating flush-pkt.
func DecodeUploadRequest(r io.Reader) (*UploadRequest, error) {
	req := NewUploadRequest()

	for {
		l, p, err := ReadPacket(r)
		if err != nil {
			return nil, err
		}
		if l == FlushLen {
			break
		}
		line := strings.TrimSuffix(string(p), "\n")

		if strings.HasPrefix(line, shallowPrefix) {
			id, err := objid.FromHex(strings.TrimSpace(line[len(shallowPrefix):]))
			if err != nil {
				return nil, gitkind.Wrap(gitkind.ProtocolError, err, "wire: invalid shallow id")
			}
			req.Shallows = append(req.Shallows, id)
			continue
		}
		if !strings.HasPrefix(line, wantPrefix) {
			return nil, gitkind.Newf(gitkind.ProtocolError, "wire: expected want line, got %q", line)
		}
		rest := line[len(wantPrefix):]
		hexID, capsStr, hasCaps := strings.Cut(rest, " ")
		id, err := objid.FromHex(strings.TrimSpace(hexID))
		if err != nil {
			return nil, gitkind.Wrap(gitkind.ProtocolError, err, "wire: invalid want id")
		}
		req.Wants = append(req.Wants, id)
		if hasCaps && req.Capabilities.IsEmpty() {
			if err := req.Capabilities.Decode([]byte(capsStr)); err != nil {
				return nil, err
			}
		}
	}

	if len(req.Wants) == 0 {
		return nil, gitkind.New(gitkind.ProtocolError, "wire: upload-request with no wants")
	}
	return req, nil
}

// UploadHaves is one round of "have <id>" lines a client sends during
// negotiation, terminated either by a flush (more rounds follow) or by
// "done" (negotiation is over).
type UploadHaves struct {
	Haves []objid.ID
	Done  bool
}

const havePrefix = "have "

// Encode writes the have lines and terminator.
func (u *UploadHaves) Encode(w io.Writer) error {
	for _, id := range u.Haves {
		if _, err := WritePacketln(w, havePrefix+id.String()); err != nil {
			return err
		}
	}
	if u.Done {
		_, err := WritePacketln(w, "done")
		return err
	}
	return WriteFlush(w)
}

// DecodeUploadHaves reads one have-round.
func DecodeUploadHaves(r io.Reader) (*UploadHaves, error) {
	u := &UploadHaves{}
	for {
		l, p, err := ReadPacket(r)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if l == FlushLen {
			break
		}
		line := strings.TrimSuffix(string(p), "\n")
		if line == "done" {
			u.Done = true
			break
		}
		if !strings.HasPrefix(line, havePrefix) {
			return nil, gitkind.Newf(gitkind.ProtocolError, "wire: expected have line, got %q", line)
		}
		id, err := objid.FromHex(strings.TrimSpace(line[len(havePrefix):]))
		if err != nil {
			return nil, gitkind.Wrap(gitkind.ProtocolError, err, "wire: invalid have id")
		}
		u.Haves = append(u.Haves, id)
	}
	return u, nil
}

// ACKStatus qualifies a multi_ack/multi_ack_detailed ACK line.
type ACKStatus string

const (
	ACKContinue ACKStatus = "continue"
	ACKCommon   ACKStatus = "common"
	ACKReady    ACKStatus = "ready"
	ackPlain    ACKStatus = ""
)

// WriteACK writes "ACK <id>[ status]".
func WriteACK(w io.Writer, id objid.ID, status ACKStatus) error {
	line := "ACK " + id.String()
	if status != ackPlain {
		line += " " + string(status)
	}
	_, err := WritePacketln(w, line)
	return err
}

// WriteNAK writes the "NAK" line a server sends when it has not found
// (or is not yet ready to report) a common base.
func WriteNAK(w io.Writer) error {
	_, err := WritePacketln(w, "NAK")
	return err
}

// Negotiator drives the server side of want/have/ACK negotiation across
// one or more rounds, spec.md §4.11. It tracks every have the client has
// confirmed as common so the final ACK (once the client sends "done")
// names the most recent one, per the teacher's multi_ack convention.
type Negotiator struct {
	w        io.Writer
	multiACK bool
	common   []objid.ID
}

// NewNegotiator returns a Negotiator writing ACK/NAK responses to w.
// multiACK selects incremental per-have ACKs (multi_ack/
// multi_ack_detailed): each common have gets "ACK <id> continue" and a
// flush-terminated round gets nothing more. Without it, each
// flush-terminated round is answered with a single NAK.
func NewNegotiator(w io.Writer, multiACK bool) *Negotiator {
	return &Negotiator{w: w, multiACK: multiACK}
}

// Round consumes one decoded have-batch, classifying each have with
// haveFn (true if the object is present locally, i.e. a common base),
// and writes the appropriate response. done reports whether the client
// is finished sending haves (it sent "done"); the caller should then
// proceed to stream a pack.
func (n *Negotiator) Round(haves *UploadHaves, haveFn func(objid.ID) bool) (done bool, err error) {
	for _, h := range haves.Haves {
		if !haveFn(h) {
			continue
		}
		n.common = append(n.common, h)
		if n.multiACK {
			if err := WriteACK(n.w, h, ACKContinue); err != nil {
				return false, err
			}
		}
	}

	if haves.Done {
		if len(n.common) == 0 {
			return true, WriteNAK(n.w)
		}
		last := n.common[len(n.common)-1]
		return true, WriteACK(n.w, last, ackPlain)
	}

	if !n.multiACK {
		return false, WriteNAK(n.w)
	}
	return false, nil
}

// ancestorClosure returns the set of every commit reachable from roots
// by following parent links, spec.md §4.6's ancestry walk generalized
// from a single-pair check to a full closure.
func ancestorClosure(loader ObjectLoader, roots []objid.ID) (map[objid.ID]bool, error) {
	seen := map[objid.ID]bool{}
	var stack []objid.ID
	for _, id := range roots {
		if !seen[id] {
			seen[id] = true
			stack = append(stack, id)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		typ, data, err := loader.Get(id)
		if err != nil {
			return nil, err
		}
		if typ != object.CommitType {
			delete(seen, id)
			continue
		}
		c := &object.Commit{}
		if err := c.Decode(bytes.NewReader(data)); err != nil {
			return nil, err
		}
		for _, pid := range c.ParentIDs {
			if !seen[pid] {
				seen[pid] = true
				stack = append(stack, pid)
			}
		}
	}
	return seen, nil
}

// treeClosure adds id (if it names a tree) and everything reachable
// under it to into.
func treeClosure(loader ObjectLoader, id objid.ID, into map[objid.ID]object.Type, data map[objid.ID][]byte) error {
	if _, ok := into[id]; ok {
		return nil
	}
	typ, raw, err := loader.Get(id)
	if err != nil {
		return err
	}
	into[id] = typ
	data[id] = raw

	if typ != object.TreeType {
		return nil
	}
	t := &object.Tree{}
	if err := t.Decode(bytes.NewReader(raw)); err != nil {
		return err
	}
	for _, e := range t.Entries {
		if e.Mode == filemode.Submodule {
			continue
		}
		if err := treeClosure(loader, e.ID, into, data); err != nil {
			return err
		}
	}
	return nil
}

// PackObjects walks every object reachable from wants, excluding
// anything already reachable from haves, and streams the result as a
// complete pack to dst, spec.md §4.11's "streams a pack" step. It
// returns the pack's trailing checksum.
func PackObjects(dst io.Writer, loader ObjectLoader, wants, haves []objid.ID) (objid.ID, error) {
	excludedCommits, err := ancestorClosure(loader, haves)
	if err != nil {
		return objid.Zero, err
	}
	wantedCommits, err := ancestorClosure(loader, wants)
	if err != nil {
		return objid.Zero, err
	}

	excludedObjs := map[objid.ID]object.Type{}
	excludedData := map[objid.ID][]byte{}
	for id := range excludedCommits {
		typ, raw, err := loader.Get(id)
		if err != nil {
			return objid.Zero, err
		}
		excludedObjs[id] = typ
		excludedData[id] = raw
		c := &object.Commit{}
		if err := c.Decode(bytes.NewReader(raw)); err != nil {
			return objid.Zero, err
		}
		if err := treeClosure(loader, c.TreeID, excludedObjs, excludedData); err != nil {
			return objid.Zero, err
		}
	}

	included := map[objid.ID]object.Type{}
	includedData := map[objid.ID][]byte{}
	var order []objid.ID
	for id := range wantedCommits {
		if excludedCommits[id] {
			continue
		}
		typ, raw, err := loader.Get(id)
		if err != nil {
			return objid.Zero, err
		}
		if _, ok := included[id]; !ok {
			included[id] = typ
			includedData[id] = raw
			order = append(order, id)
		}
		c := &object.Commit{}
		if err := c.Decode(bytes.NewReader(raw)); err != nil {
			return objid.Zero, err
		}
		if err := collectNewTree(loader, c.TreeID, excludedObjs, included, includedData, &order); err != nil {
			return objid.Zero, err
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })

	pw, err := pack.NewWriter(dst, uint32(len(order)))
	if err != nil {
		return objid.Zero, err
	}
	for _, id := range order {
		if _, err := pw.WriteObject(id, included[id], includedData[id]); err != nil {
			return objid.Zero, err
		}
	}
	return pw.Close()
}

func collectNewTree(loader ObjectLoader, id objid.ID, excluded map[objid.ID]object.Type, included map[objid.ID]object.Type, data map[objid.ID][]byte, order *[]objid.ID) error {
	if _, ok := excluded[id]; ok {
		return nil
	}
	if _, ok := included[id]; ok {
		return nil
	}
	typ, raw, err := loader.Get(id)
	if err != nil {
		return err
	}
	included[id] = typ
	data[id] = raw
	*order = append(*order, id)

	if typ != object.TreeType {
		return nil
	}
	t := &object.Tree{}
	if err := t.Decode(bytes.NewReader(raw)); err != nil {
		return err
	}
	for _, e := range t.Entries {
		if e.Mode == filemode.Submodule {
			continue
		}
		if err := collectNewTree(loader, e.ID, excluded, included, data, order); err != nil {
			return err
		}
	}
	return nil
}

// bufReader returns r itself when it is already a *bufio.Reader and wraps
// it otherwise, so that several packp messages decoded off one connection
// can share a single buffered reader (as PeekPacket requires). Nothing in
// the package calls it.
func bufReader(r io.Reader) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}
