package wire

import (
	"bytes"
	"io"
	"sort"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
	"github.com/git-core/gitcore/refs"
)

// ObjectLoader is the subset of odb.Store advertisement/negotiation needs:
// resolving an id to its type and bytes so an annotated tag can be
// peeled to the commit it points at.
type ObjectLoader interface {
	Get(id objid.ID) (object.Type, []byte, error)
}

var zeroHexID = objid.Zero.String()

// Advertisement is the set of refs (and their peeled tag targets) a
// server announces before upload-pack or receive-pack negotiation
// begins, spec.md §4.11 "Fetch/upload".
type Advertisement struct {
	Head         *objid.ID
	Capabilities *CapabilityList
	References   map[string]objid.ID
	Peeled       map[string]objid.ID
	Shallows     []objid.ID
}

// NewAdvertisement returns an empty Advertisement ready for AddReference.
func NewAdvertisement() *Advertisement {
	return &Advertisement{
		Capabilities: NewCapabilityList(),
		References:   map[string]objid.ID{},
		Peeled:       map[string]objid.ID{},
	}
}

// peelTag follows a chain of annotated tag objects to the first
// non-tag object it ultimately names, spec.md §3 "Tag". A ref that
// doesn't point at a tag peels to itself (ok == false).
func peelTag(loader ObjectLoader, id objid.ID) (objid.ID, bool, error) {
	seen := map[objid.ID]bool{}
	cur := id
	peeled := false
	for {
		if seen[cur] {
			return objid.Zero, false, gitkind.New(gitkind.Corrupt, "wire: tag peel cycle")
		}
		seen[cur] = true

		typ, data, err := loader.Get(cur)
		if err != nil {
			return objid.Zero, false, err
		}
		if typ != object.TagType {
			return cur, peeled, nil
		}
		t := &object.Tag{}
		if err := t.Decode(bytes.NewReader(data)); err != nil {
			return objid.Zero, false, err
		}
		cur = t.ObjectID
		peeled = true
	}
}

// BuildAdvertisement assembles the full ref advertisement for cache:
// every valid reference (HEAD resolved to the symref/capability form
// the teacher's AdvRefs.resolveHead falls back to when symrefs isn't
// otherwise available), plus a `^{}` peeled entry for every ref that
// names an annotated tag.
func BuildAdvertisement(cache *refs.RefCache, loader ObjectLoader, agent string) (*Advertisement, error) {
	adv := NewAdvertisement()

	all := cache.All()
	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })

	var headTarget refs.Name
	for _, r := range all {
		if r.Name() == refs.HEAD {
			if r.IsSymbol() {
				headTarget = r.Target()
			} else if r.IsHash() {
				id := r.ID()
				adv.Head = &id
			}
			continue
		}
		if !r.IsHash() {
			continue
		}
		id := r.ID()
		adv.References[string(r.Name())] = id

		peeledID, ok, err := peelTag(loader, id)
		if err != nil {
			return nil, err
		}
		if ok {
			adv.Peeled[string(r.Name())] = peeledID
		}
	}

	if adv.Head == nil && headTarget != "" {
		if id, ok := adv.References[string(headTarget)]; ok {
			adv.Head = &id
		}
		if err := adv.Capabilities.Add(SymRef, "HEAD:"+string(headTarget)); err != nil {
			return nil, err
		}
	}

	if err := adv.Capabilities.Add(OFSDelta); err != nil {
		return nil, err
	}
	if err := adv.Capabilities.Add(SideBand64k); err != nil {
		return nil, err
	}
	if err := adv.Capabilities.Add(DeleteRefs); err != nil {
		return nil, err
	}
	if err := adv.Capabilities.Add(ReportStatusCap); err != nil {
		return nil, err
	}
	if agent != "" {
		if err := adv.Capabilities.Add(Agent, agent); err != nil {
			return nil, err
		}
	}

	return adv, nil
}

// Encode writes adv as a pkt-line advertisement: the first line carries
// HEAD when it is known, otherwise the first ref (or, with no refs at all,
// the all-zero "no refs" sentinel), and the capability list; every
// subsequent line one ref, peeled entries suffixed `^{}`, followed
// by any shallow boundary lines and a terminating flush-pkt.
func (a *Advertisement) Encode(w io.Writer) error {
	names := make([]string, 0, len(a.References))
	for n := range a.References {
		names = append(names, n)
	}
	sort.Strings(names)

	first := true
	writeRef := func(name string, id objid.ID, suffix string) error {
		line := id.String() + " " + name + suffix
		if first {
			first = false
			if a.Capabilities.IsEmpty() {
				_, err := WritePacketString(w, line+"\n")
				return err
			}
			_, err := WritePacketString(w, line+"\x00"+a.Capabilities.String()+"\n")
			return err
		}
		_, err := WritePacketString(w, line+"\n")
		return err
	}

	if len(names) == 0 {
		first = false
		line := zeroHexID + " capabilities^{}\x00" + a.Capabilities.String()
		if _, err := WritePacketString(w, line); err != nil {
			return err
		}
	} else {
		if a.Head != nil {
			if err := writeRef("HEAD", *a.Head, ""); err != nil {
				return err
			}
		}
		for _, name := range names {
			if err := writeRef(name, a.References[name], ""); err != nil {
				return err
			}
			if peeled, ok := a.Peeled[name]; ok {
				if err := writeRef(name, peeled, "^{}"); err != nil {
					return err
				}
			}
		}
	}

	for _, sh := range a.Shallows {
		if _, err := WritePacketString(w, "shallow "+sh.String()+"\n"); err != nil {
			return err
		}
	}

	return WriteFlush(w)
}

// ErrEmptyAdvertisement is returned by DecodeAdvertisement when the
// input has no pkt-lines at all.
var ErrEmptyAdvertisement = gitkind.New(gitkind.ProtocolError, "wire: empty advertisement")

const hashHexSize = objid.HexSize

// DecodeAdvertisement parses a ref advertisement written by Encode (or
// by an equivalent real server).
func DecodeAdvertisement(r io.Reader) (*Advertisement, error) {
	adv := NewAdvertisement()

	_, first, err := ReadPacket(r)
	if err != nil {
		if err == io.EOF {
			return nil, ErrEmptyAdvertisement
		}
		return nil, err
	}

	line := bytes.TrimSuffix(first, []byte("\n"))
	if len(line) < hashHexSize {
		return nil, gitkind.New(gitkind.ProtocolError, "wire: advertisement line too short")
	}
	hexID, rest := line[:hashHexSize], line[hashHexSize:]
	id, err := objid.FromHex(string(hexID))
	if err != nil {
		return nil, gitkind.Wrap(gitkind.ProtocolError, err, "wire: invalid advertised id")
	}

	noRefs := bytes.HasPrefix(rest, []byte(" capabilities^{}\x00"))
	if noRefs {
		rest = rest[len(" capabilities^{}"):]
	} else {
		if len(rest) < 1 || rest[0] != ' ' {
			return nil, gitkind.New(gitkind.ProtocolError, "wire: malformed advertisement line")
		}
		rest = rest[1:]
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, gitkind.New(gitkind.ProtocolError, "wire: missing capabilities NUL")
		}
		name := string(rest[:nul])
		rest = rest[nul:]
		if name == "HEAD" {
			adv.Head = &id
		} else {
			adv.References[name] = id
		}
	}
	if len(rest) > 0 && rest[0] == 0 {
		rest = rest[1:]
	}
	if err := adv.Capabilities.Decode(rest); err != nil {
		return nil, err
	}

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
		line := string(bytes.TrimSuffix(p, []byte("\n")))
		if len(line) < hashHexSize+1 {
			return nil, gitkind.New(gitkind.ProtocolError, "wire: malformed ref line")
		}
		if len(line) > len("shallow ") && line[:len("shallow ")] == "shallow " {
			sid, err := objid.FromHex(line[len("shallow "):])
			if err != nil {
				return nil, gitkind.Wrap(gitkind.ProtocolError, err, "wire: invalid shallow id")
			}
			adv.Shallows = append(adv.Shallows, sid)
			continue
		}

		rid, err := objid.FromHex(line[:hashHexSize])
		if err != nil {
			return nil, gitkind.Wrap(gitkind.ProtocolError, err, "wire: invalid ref id")
		}
		name := line[hashHexSize+1:]
		if peeledName, ok := trimPeeled(name); ok {
			adv.Peeled[peeledName] = rid
			continue
		}
		adv.References[name] = rid
	}

	return adv, nil
}

func trimPeeled(name string) (string, bool) {
	const suffix = "^{}"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)], true
	}
	return "", false
}
