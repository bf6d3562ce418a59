package wire

import (
	"bytes"
	"fmt"
	"time"

	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
)

// fakeStore is a minimal in-memory object store, grounded on the same
// shape checkout's tests use: it hashes blobs/trees/commits the same
// way odb.Store's loose writer does, so ids computed here agree with
// whatever a real ODB would assign.
type fakeStore struct {
	objects map[objid.ID]storedObject
}

type storedObject struct {
	typ  object.Type
	data []byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[objid.ID]storedObject{}}
}

func (f *fakeStore) Get(id objid.ID) (object.Type, []byte, error) {
	o, ok := f.objects[id]
	if !ok {
		return object.InvalidType, nil, fmt.Errorf("not found: %s", id)
	}
	return o.typ, o.data, nil
}

func (f *fakeStore) put(typ object.Type, data []byte) objid.ID {
	h := objid.NewHasher()
	fmt.Fprintf(h, "%s %d\x00", typ, len(data))
	h.Write(data)
	id := objid.FromBytes(h.Sum(nil))
	f.objects[id] = storedObject{typ: typ, data: data}
	return id
}

func (f *fakeStore) putBlob(content string) objid.ID {
	return f.put(object.BlobType, []byte(content))
}

func (f *fakeStore) putTree(t *object.Tree) objid.ID {
	var buf bytes.Buffer
	_ = t.Encode(&buf)
	return f.put(object.TreeType, buf.Bytes())
}

func (f *fakeStore) putCommit(c *object.Commit) objid.ID {
	var buf bytes.Buffer
	_ = c.Encode(&buf)
	return f.put(object.CommitType, buf.Bytes())
}

func (f *fakeStore) putTag(t *object.Tag) objid.ID {
	var buf bytes.Buffer
	_ = t.Encode(&buf)
	return f.put(object.TagType, buf.Bytes())
}

func testSig(when int64) object.Signature {
	return object.Signature{Name: "tester", Email: "t@example.com", When: time.Unix(when, 0)}
}

func sampleID(b byte) objid.ID {
	var raw [objid.Size]byte
	raw[0] = b
	return objid.FromBytes(raw[:])
}
