package wire

import (
	"bytes"
	"sort"
	"strings"

	"github.com/git-core/gitcore/internal/gitkind"
)

// Capability is one of the tokens a client/server can advertise on the
// first reference of an advertisement (or on the capabilities^{} line
// when the repository is empty), spec.md §6.
type Capability string

// Core capabilities spec.md §6 names.
const (
	MultiACK         Capability = "multi_ack"
	MultiACKDetailed Capability = "multi_ack_detailed"
	SideBand64k      Capability = "side-band-64k"
	OFSDelta         Capability = "ofs-delta"
	ThinPack         Capability = "thin-pack"
	NoDone           Capability = "no-done"
	ReportStatusCap  Capability = "report-status"
	DeleteRefs       Capability = "delete-refs"
	Atomic           Capability = "atomic"
	ShallowCap       Capability = "shallow"

	// SymRef and Agent aren't in spec.md's core set but are needed to
	// express HEAD as a symbolic ref and to name this implementation in
	// the advertisement, the same two extras the teacher always sends.
	SymRef Capability = "symref"
	Agent  Capability = "agent"
)

// argumented is the set of capabilities that may carry "=value" data,
// everything else is a bare boolean flag.
var argumented = map[Capability]bool{
	SymRef: true,
	Agent:  true,
}

// ErrArguments is returned by CapabilityList.Decode when a non-argumented
// capability is given a value.
var ErrArguments = gitkind.New(gitkind.ProtocolError, "wire: capability does not take arguments")

// CapabilityList is the set of capabilities negotiated on the first
// advertised reference (or the command/want line's NUL-separated
// suffix), spec.md §6.
type CapabilityList struct {
	order []Capability
	m     map[Capability][]string
}

// NewCapabilityList returns an empty CapabilityList.
func NewCapabilityList() *CapabilityList {
	return &CapabilityList{m: map[Capability][]string{}}
}

// IsEmpty reports whether no capability has been added.
func (l *CapabilityList) IsEmpty() bool { return len(l.order) == 0 }

// Supports reports whether c was negotiated.
func (l *CapabilityList) Supports(c Capability) bool {
	_, ok := l.m[c]
	return ok
}

// Get returns c's values (nil if c wasn't negotiated or takes none).
func (l *CapabilityList) Get(c Capability) []string { return l.m[c] }

// Add records c, with optional values for an argumented capability.
func (l *CapabilityList) Add(c Capability, values ...string) error {
	if len(values) > 0 && !argumented[c] {
		return ErrArguments
	}
	if _, ok := l.m[c]; !ok {
		l.order = append(l.order, c)
	}
	l.m[c] = append(l.m[c], values...)
	return nil
}

// String renders the capability list the way it appears on the wire: a
// space-separated token list, "name" or "name=value".
func (l *CapabilityList) String() string {
	var parts []string
	for _, c := range l.order {
		values := l.m[c]
		if len(values) == 0 {
			parts = append(parts, string(c))
			continue
		}
		for _, v := range values {
			parts = append(parts, string(c)+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

// Decode parses a space-separated capability token list, tolerating a
// leading space (the byte that would otherwise separate it from a NUL
// terminated ref name or command).
func (l *CapabilityList) Decode(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	for _, tok := range bytes.Split(b, []byte(" ")) {
		if len(tok) == 0 {
			continue
		}
		name, value, hasValue := strings.Cut(string(tok), "=")
		c := Capability(name)
		if hasValue {
			if err := l.Add(c, value); err != nil {
				return err
			}
			continue
		}
		if err := l.Add(c); err != nil {
			return err
		}
	}
	return nil
}

// sortedTokens returns the capability tokens sorted, so the output does
// not depend on insertion order.
func (l *CapabilityList) sortedTokens() []string {
	toks := strings.Fields(l.String())
	sort.Strings(toks)
	return toks
}
