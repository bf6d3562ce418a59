package wire

import (
	"io"
	"sort"

	"github.com/git-core/gitcore/objid"
)

// AutoFollowTags returns, from an advertisement already seen, the tag
// refs that point (possibly via peeling) at an object now reachable
// locally but whose own tag object isn't, so a fetching client can
// retroactively add them as wants in a follow-up round, spec.md §4.11
// "Auto-follow tags": tags pointing at objects now reachable locally are
// retroactively wanted unless already satisfied.
func AutoFollowTags(adv *Advertisement, haveFn func(objid.ID) bool) []objid.ID {
	var follow []objid.ID
	for name, target := range adv.Peeled {
		tagID, ok := adv.References[name]
		if !ok {
			continue
		}
		if haveFn(tagID) {
			continue // already satisfied
		}
		if haveFn(target) {
			follow = append(follow, tagID)
		}
	}
	sort.Slice(follow, func(i, j int) bool { return follow[i].String() < follow[j].String() })
	return follow
}

// UploadPackSession runs one complete server-side fetch, spec.md §4.11
// "Fetch/upload": it decodes the client's want list, drives negotiation
// rounds until the client sends "done" (or stops sending haves without
// ever negotiating, in which case every want is sent), then streams the
// resulting pack, side-band multiplexed when the client asked for it.
// haveFn reports whether the server's own store holds an object; the
// Negotiator uses it to decide which of the client's have ids are
// common bases.
func UploadPackSession(r io.Reader, w io.Writer, loader ObjectLoader, haveFn func(objid.ID) bool) error {
	req, err := DecodeUploadRequest(r)
	if err != nil {
		return err
	}

	multiACK := req.Capabilities.Supports(MultiACK) || req.Capabilities.Supports(MultiACKDetailed)
	neg := NewNegotiator(w, multiACK)

	var allHaves []objid.ID
	for {
		haves, err := DecodeUploadHaves(r)
		if err != nil {
			return err
		}
		allHaves = append(allHaves, haves.Haves...)

		done, err := neg.Round(haves, haveFn)
		if err != nil {
			return err
		}
		if done {
			break
		}
		if len(haves.Haves) == 0 {
			// Client ran out of haves without ever sending "done":
			// nothing further to negotiate, proceed straight to the pack.
			break
		}
	}

	if !req.Capabilities.Supports(SideBand64k) {
		_, err := PackObjects(w, loader, req.Wants, allHaves)
		return err
	}

	mux := NewMuxer(w, true)
	pr, pw := io.Pipe()
	go func() {
		_, err := PackObjects(pw, loader, req.Wants, allHaves)
		pw.CloseWithError(err)
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
