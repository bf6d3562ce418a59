// Package odb implements the combined object database described in
// spec.md §4.3 (C3): one content-addressed store backed by loose objects
// and zero or more pack files, with a single Get/Has/Put surface that
// hides which tier an object actually lives in.
package odb

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	billy "github.com/go-git/go-billy/v5"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
	"github.com/git-core/gitcore/odb/objfile"
	"github.com/git-core/gitcore/odb/pack"
	"github.com/git-core/gitcore/odb/packidx"

	lru "github.com/golang/groupcache/lru"
)

const (
	objectsDir = "objects"
	packDir    = "objects/pack"
)

// Store is a filesystem-backed ODB: a loose object directory plus a set of
// packs, consulted in the order spec.md §4.3 prescribes: packs newest-first,
// then loose. An in-process window cache absorbs repeat reads of recently
// touched objects (commonly delta bases revisited across a walk), grounded
// on the teacher's plumbing/cache.ObjectLRU.
type Store struct {
	fs billy.Filesystem

	mu    sync.RWMutex
	packs []*openPack // index 0 is the most recently opened/added pack

	cacheMu sync.Mutex
	cache   *lru.Cache
}

type openPack struct {
	checksum objid.ID
	file     billy.File
	pack     *pack.Pack
	idx      *packidx.Index
}

type cached struct {
	typ  object.Type
	data []byte
}

// DefaultWindowCacheEntries bounds the object window cache's entry count.
// spec.md doesn't mandate a size; this mirrors go-git's default object
// cache capacity order of magnitude.
const DefaultWindowCacheEntries = 512

// Open scans fs's objects/pack directory for *.idx/*.pack pairs and returns
// a Store ready to serve reads and accept new loose objects.
func Open(fs billy.Filesystem) (*Store, error) {
	s := &Store{
		fs:    fs,
		cache: lru.New(DefaultWindowCacheEntries),
	}
	if err := s.loadPacks(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadPacks() error {
	infos, err := s.fs.ReadDir(packDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return gitkind.Wrap(gitkind.IoError, err, "odb: listing pack directory")
	}

	var idxNames []string
	for _, fi := range infos {
		name := fi.Name()
		if len(name) > 4 && name[len(name)-4:] == ".idx" {
			idxNames = append(idxNames, name)
		}
	}
	sort.Strings(idxNames)

	for _, name := range idxNames {
		base := name[:len(name)-4]
		if err := s.openPackPair(base); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) openPackPair(base string) error {
	idxFile, err := s.fs.Open(s.fs.Join(packDir, base+".idx"))
	if err != nil {
		return gitkind.Wrap(gitkind.IoError, err, "odb: opening pack index")
	}
	defer idxFile.Close()

	idx, err := packidx.Decode(idxFile)
	if err != nil {
		return gitkind.Wrap(gitkind.Corrupt, err, "odb: decoding pack index "+base)
	}

	packFile, err := s.fs.Open(s.fs.Join(packDir, base+".pack"))
	if err != nil {
		return gitkind.Wrap(gitkind.IoError, err, "odb: opening pack file")
	}

	op := &openPack{checksum: idx.PackfileChecksum, file: packFile, idx: idx}
	op.pack = pack.Open(packFile, idx, s)

	s.mu.Lock()
	s.packs = append([]*openPack{op}, s.packs...)
	s.mu.Unlock()
	return nil
}

// Has reports whether id is present anywhere in the store (packs or loose).
func (s *Store) Has(id objid.ID) bool {
	if s.hasCached(id) {
		return true
	}
	s.mu.RLock()
	for _, p := range s.packs {
		if p.idx.Has(id) {
			s.mu.RUnlock()
			return true
		}
	}
	s.mu.RUnlock()

	_, err := s.fs.Stat(looseObjectPath(id))
	return err == nil
}

// Get resolves id to its type and fully-inflated content, consulting the
// window cache, then packs newest-first, then loose storage (spec.md §4.3
// "Resolution order").
func (s *Store) Get(id objid.ID) (object.Type, []byte, error) {
	if c, ok := s.getCached(id); ok {
		return c.typ, c.data, nil
	}

	s.mu.RLock()
	packsSnapshot := append([]*openPack(nil), s.packs...)
	s.mu.RUnlock()

	for _, p := range packsSnapshot {
		if !p.idx.Has(id) {
			continue
		}
		t, data, err := p.pack.Get(id)
		if err != nil {
			return 0, nil, err
		}
		s.putCached(id, t, data)
		return t, data, nil
	}

	t, data, err := s.readLoose(id)
	if err != nil {
		return 0, nil, err
	}
	s.putCached(id, t, data)
	return t, data, nil
}

// ObjectByID implements pack.BaseResolver so a pack's REF_DELTA entries can
// resolve bases that live in another pack or in loose storage.
func (s *Store) ObjectByID(id objid.ID) (object.Type, []byte, error) {
	return s.Get(id)
}

func (s *Store) readLoose(id objid.ID) (object.Type, []byte, error) {
	f, err := s.fs.Open(looseObjectPath(id))
	if err != nil {
		return 0, nil, gitkind.Wrap(gitkind.NotFound, err, "odb: object not found")
	}
	defer f.Close()

	r, err := objfile.NewReader(f)
	if err != nil {
		return 0, nil, err
	}
	defer r.Close()

	t, size, err := r.Header()
	if err != nil {
		return 0, nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return 0, nil, gitkind.Wrap(gitkind.Corrupt, err, "odb: reading loose object")
	}
	if r.Hash() != id {
		return 0, nil, gitkind.Newf(gitkind.Corrupt, "odb: loose object %s hash mismatch", id)
	}
	return t, data, nil
}

// Put writes a new loose object and returns its id. Objects already present
// (by content address) are left untouched (idempotent, spec.md §4.3).
func (s *Store) Put(t object.Type, data []byte) (objid.ID, error) {
	id := hashLoose(t, data)
	if s.Has(id) {
		return id, nil
	}

	hex := id.String()
	dir := s.fs.Join(objectsDir, hex[:2])
	path := s.fs.Join(dir, hex[2:])
	if err := s.fs.MkdirAll(dir, 0o777); err != nil {
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "odb: creating fan-out directory")
	}

	tmp, err := s.fs.TempFile(dir, "tmp_obj_")
	if err != nil {
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "odb: creating temp object file")
	}
	tmpName := tmp.Name()

	ow := objfile.NewWriter(tmp)
	if err := ow.WriteHeader(t, int64(len(data))); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return objid.Zero, err
	}
	if _, err := ow.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return objid.Zero, err
	}
	if err := ow.Close(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return objid.Zero, err
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "odb: closing temp object file")
	}

	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "odb: committing loose object")
	}

	s.putCached(id, t, data)
	return id, nil
}

// IngestPack streams a complete pack (as received over the wire, or during
// repack) into a new pack+index pair under objects/pack, named after the
// SHA-1 of its sorted object ids (spec.md §4.3 "pack naming"), and adds it
// to the store's search list.
func (s *Store) IngestPack(r io.Reader) (objid.ID, error) {
	tmp, err := s.fs.TempFile(packDir, "tmp_pack_")
	if err != nil {
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "odb: creating temp pack file")
	}
	tmpName := tmp.Name()

	var objs []pack.ParsedObject
	checksum, err := pack.Parse(io.TeeReader(r, tmp), s, collectObserver{&objs})
	if err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return objid.Zero, err
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "odb: closing temp pack file")
	}

	entries := make([]packidx.Entry, len(objs))
	for i, o := range objs {
		entries[i] = packidx.Entry{ID: o.ID, Offset: o.Offset}
	}
	idx := packidx.New(entries, checksum)

	name := packName(idx)
	packPath := s.fs.Join(packDir, name+".pack")
	if err := s.fs.Rename(tmpName, packPath); err != nil {
		s.fs.Remove(tmpName)
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "odb: committing pack file")
	}

	idxFile, err := s.fs.Create(s.fs.Join(packDir, name+".idx"))
	if err != nil {
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "odb: creating pack index file")
	}
	if err := packidx.Encode(idxFile, idx); err != nil {
		idxFile.Close()
		return objid.Zero, err
	}
	if err := idxFile.Close(); err != nil {
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "odb: closing pack index file")
	}

	packFile, err := s.fs.Open(packPath)
	if err != nil {
		return objid.Zero, gitkind.Wrap(gitkind.IoError, err, "odb: reopening committed pack file")
	}
	op := &openPack{checksum: checksum, file: packFile, idx: idx}
	op.pack = pack.Open(packFile, idx, s)

	s.mu.Lock()
	s.packs = append([]*openPack{op}, s.packs...)
	s.mu.Unlock()

	return checksum, nil
}

// packName derives the content-addressed pack filename from the SHA-1 of
// its sorted object ids concatenated, spec.md §4.3.
func packName(idx *packidx.Index) string {
	ids := idx.SortedIDs()
	h := objid.NewHasher()
	for _, id := range ids {
		h.Write(id.Bytes())
	}
	return "pack-" + objid.FromBytes(h.Sum(nil)).String()
}

type collectObserver struct {
	out *[]pack.ParsedObject
}

func (c collectObserver) OnHeader(count uint32) error { return nil }
func (c collectObserver) OnObject(obj pack.ParsedObject) error {
	*c.out = append(*c.out, obj)
	return nil
}
func (c collectObserver) OnFooter(checksum objid.ID) error { return nil }

func (s *Store) hasCached(id objid.ID) bool {
	s.cacheMu.Lock()
	_, ok := s.cache.Get(id)
	s.cacheMu.Unlock()
	return ok
}

func (s *Store) getCached(id objid.ID) (cached, bool) {
	s.cacheMu.Lock()
	v, ok := s.cache.Get(id)
	s.cacheMu.Unlock()
	if !ok {
		return cached{}, false
	}
	return v.(cached), true
}

func (s *Store) putCached(id objid.ID, t object.Type, data []byte) {
	s.cacheMu.Lock()
	s.cache.Add(id, cached{typ: t, data: data})
	s.cacheMu.Unlock()
}

func hashLoose(t object.Type, data []byte) objid.ID {
	h := objid.NewHasher()
	fmt.Fprintf(h, "%s %d\x00", t, len(data))
	h.Write(data)
	return objid.FromBytes(h.Sum(nil))
}

// looseObjectPath returns "objects/xx/yyyy...yy" for id, spec.md §6.
func looseObjectPath(id objid.ID) string {
	hex := id.String()
	return objectsDir + "/" + hex[:2] + "/" + hex[2:]
}
