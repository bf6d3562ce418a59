package refs

import (
	"io"
	"os"
	"sort"

	billy "github.com/go-git/go-billy/v5"

	"github.com/git-core/gitcore/internal/gitkind"
)

const packedRefsPath = "packed-refs"

// RefCache is an immutable snapshot of every reference known to a
// repository, loose and packed, spec.md §4.6 "Read model". Writers publish
// a new RefCache by compare-and-swap; nothing ever mutates one in place.
type RefCache struct {
	entries []*Reference       // sorted by Name, corrupt loose refs excluded
	corrupt map[Name]error     // loose refs with an invalid body, by exact name
}

// buildRefCache rescans fs for packed-refs plus every loose ref under
// refs/ and HEAD, with loose refs shadowing packed ones of the same name.
func buildRefCache(fs billy.Filesystem) (*RefCache, error) {
	byName := map[Name]*Reference{}
	corrupt := map[Name]error{}

	if entries, err := readPackedRefs(fs); err != nil {
		return nil, err
	} else {
		for _, e := range entries {
			byName[e.ref.Name()] = e.ref
		}
	}

	if err := walkLooseRefs(fs, "refs", byName, corrupt); err != nil {
		return nil, err
	}

	if _, err := fs.Stat(string(HEAD)); err == nil {
		ref, err := readLooseRef(fs, HEAD)
		if err != nil {
			if !gitkind.Is(err, gitkind.Corrupt) {
				return nil, err
			}
			corrupt[HEAD] = err
			delete(byName, HEAD)
		} else {
			byName[HEAD] = ref
		}
	} else if !os.IsNotExist(err) {
		return nil, gitkind.Wrap(gitkind.IoError, err, "refs: stat HEAD")
	}

	names := make([]Name, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	entries := make([]*Reference, len(names))
	for i, n := range names {
		entries[i] = byName[n]
	}

	return &RefCache{entries: entries, corrupt: corrupt}, nil
}

func readPackedRefs(fs billy.Filesystem) ([]packedEntry, error) {
	f, err := fs.Open(packedRefsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, gitkind.Wrap(gitkind.IoError, err, "refs: opening packed-refs")
	}
	defer f.Close()
	return decodePackedRefs(f)
}

func walkLooseRefs(fs billy.Filesystem, dir string, byName map[Name]*Reference, corrupt map[Name]error) error {
	infos, err := fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return gitkind.Wrap(gitkind.IoError, err, "refs: listing "+dir)
	}

	for _, fi := range infos {
		path := dir + "/" + fi.Name()
		if fi.IsDir() {
			if err := walkLooseRefs(fs, path, byName, corrupt); err != nil {
				return err
			}
			continue
		}

		name := Name(path)
		ref, err := readLooseRef(fs, name)
		if err != nil {
			if gitkind.Is(err, gitkind.Corrupt) {
				corrupt[name] = err
				delete(byName, name)
				continue
			}
			return err
		}
		byName[name] = ref
	}
	return nil
}

func readLooseRef(fs billy.Filesystem, name Name) (*Reference, error) {
	f, err := fs.Open(string(name))
	if err != nil {
		return nil, gitkind.Wrap(gitkind.IoError, err, "refs: opening "+string(name))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, gitkind.Wrap(gitkind.IoError, err, "refs: reading "+string(name))
	}
	return parseReference(name, string(data))
}

// Lookup resolves name to its exact stored reference (no short-name
// expansion, no symbolic-ref following). A loose ref whose body was
// corrupt is absent from listing but still surfaces its parse error here,
// spec.md §4.6.
func (c *RefCache) Lookup(name Name) (*Reference, error) {
	if err, ok := c.corrupt[name]; ok {
		return nil, err
	}
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].Name() >= name })
	if i < len(c.entries) && c.entries[i].Name() == name {
		return c.entries[i], nil
	}
	return nil, nil
}

// All returns every valid (non-corrupt) reference, sorted by name.
func (c *RefCache) All() []*Reference {
	out := make([]*Reference, len(c.entries))
	copy(out, c.entries)
	return out
}
