package pack

import (
	"bufio"
	"fmt"
	"io"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
)

// ParsedObject is one fully-reconstructed object produced while streaming
// through a pack, tagged with the byte offset its entry started at (used
// both to resolve later OFS_DELTA backoffs and to build a pack index).
type ParsedObject struct {
	ID     objid.ID
	Type   object.Type
	Offset int64
	CRC32  uint32
	Data   []byte
}

// Observer receives callbacks as Parse walks a pack stream; odb.Store's
// IngestPack implements it to collect the parsed objects it then indexes,
// mirroring the teacher's packfile.Observer/idxfile.Writer split.
type Observer interface {
	OnHeader(count uint32) error
	OnObject(obj ParsedObject) error
	OnFooter(checksum objid.ID) error
}

// Parse walks pack from its 12-byte header through its trailer, resolving
// every delta it contains (OFS_DELTA against objects already seen in this
// pack, REF_DELTA against fallback when the base isn't local, spec.md
// §4.2), and invokes obs for each fully-reconstructed object. It returns
// the pack's trailing SHA-1 checksum.
func Parse(r io.Reader, fallback BaseResolver, obs Observer) (objid.ID, error) {
	cr := &countingReader{r: r}
	br := bufio.NewReader(cr)

	hdr, err := ReadHeader(br)
	if err != nil {
		return objid.Zero, err
	}
	if obs != nil {
		if err := obs.OnHeader(hdr.ObjectCount); err != nil {
			return objid.Zero, err
		}
	}

	byOffset := make(map[int64]ParsedObject, hdr.ObjectCount)

	for i := uint32(0); i < hdr.ObjectCount; i++ {
		offset := cr.n - int64(br.Buffered())

		eh, err := ReadEntryHeader(br)
		if err != nil {
			return objid.Zero, err
		}

		var obj ParsedObject
		switch eh.Type {
		case object.CommitType, object.TreeType, object.BlobType, object.TagType:
			data, err := inflate(br, eh.Size)
			if err != nil {
				return objid.Zero, err
			}
			obj = ParsedObject{Type: eh.Type, Offset: offset, Data: data}

		case object.OFSDeltaType:
			baseOffset := offset - eh.OffsetBase
			base, ok := byOffset[baseOffset]
			if !ok {
				return objid.Zero, gitkind.New(gitkind.Corrupt, "pack: ofs-delta base not yet seen")
			}
			deltaBytes, err := inflateRaw(br)
			if err != nil {
				return objid.Zero, err
			}
			target, err := PatchDelta(base.Data, deltaBytes)
			if err != nil {
				return objid.Zero, err
			}
			obj = ParsedObject{Type: base.Type, Offset: offset, Data: target}

		case object.REFDeltaType:
			baseID := objid.FromBytes(eh.RefBase[:])
			var baseType object.Type
			var baseData []byte
			if found := findByID(byOffset, baseID); found != nil {
				baseType, baseData = found.Type, found.Data
			} else if fallback != nil {
				baseType, baseData, err = fallback.ObjectByID(baseID)
				if err != nil {
					return objid.Zero, gitkind.Wrap(gitkind.NotFound, err, "pack: ref-delta base missing")
				}
			} else {
				return objid.Zero, ErrMissingObject
			}
			deltaBytes, err := inflateRaw(br)
			if err != nil {
				return objid.Zero, err
			}
			target, err := PatchDelta(baseData, deltaBytes)
			if err != nil {
				return objid.Zero, err
			}
			obj = ParsedObject{Type: baseType, Offset: offset, Data: target}

		default:
			return objid.Zero, gitkind.Newf(gitkind.Corrupt, "pack: unexpected entry type %d", eh.Type)
		}

		obj.ID = hashObject(obj.Type, obj.Data)
		byOffset[offset] = obj

		if obs != nil {
			if err := obs.OnObject(obj); err != nil {
				return objid.Zero, err
			}
		}
	}

	var trailer [objid.Size]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil {
		return objid.Zero, gitkind.Wrap(gitkind.Corrupt, err, "pack: short trailer")
	}
	checksum := objid.FromBytes(trailer[:])
	if obs != nil {
		if err := obs.OnFooter(checksum); err != nil {
			return objid.Zero, err
		}
	}
	return checksum, nil
}

func findByID(m map[int64]ParsedObject, id objid.ID) *ParsedObject {
	for _, v := range m {
		if v.ID == id {
			return &v
		}
	}
	return nil
}

func hashObject(t object.Type, data []byte) objid.ID {
	h := objid.NewHasher()
	fmt.Fprintf(h, "%s %d\x00", t, len(data))
	h.Write(data)
	return objid.FromBytes(h.Sum(nil))
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
