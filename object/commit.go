package object

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/objid"
)

// Commit is the parsed form of a commit object, spec.md §3 "Commit".
type Commit struct {
	TreeID    objid.ID
	ParentIDs []objid.ID
	Author    Signature
	Committer Signature
	Encoding  string // declared "encoding" header, empty if absent
	Charset   Charset
	Message   string
}

// Decode parses a canonical commit object body: a fixed-order header
// block, a blank line, then the raw message bytes.
func (c *Commit) Decode(r io.Reader) error {
	*c = Commit{}

	br := bufio.NewReader(r)
	var treeSeen bool

	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return gitkind.Wrap(gitkind.Corrupt, err, "commit: reading header")
		}
		trimmed := strings.TrimSuffix(line, "\n")

		if trimmed == "" {
			break
		}
		if err == io.EOF && trimmed == "" {
			break
		}

		sp := strings.IndexByte(trimmed, ' ')
		if sp < 0 {
			return gitkind.Newf(gitkind.Corrupt, "commit: malformed header line %q", trimmed)
		}
		key, value := trimmed[:sp], trimmed[sp+1:]

		switch key {
		case "tree":
			id, perr := objid.FromHex(value)
			if perr != nil {
				return gitkind.Wrap(gitkind.Corrupt, perr, "commit: invalid tree id")
			}
			c.TreeID = id
			treeSeen = true
		case "parent":
			id, perr := objid.FromHex(value)
			if perr != nil {
				return gitkind.Wrap(gitkind.Corrupt, perr, "commit: invalid parent id")
			}
			c.ParentIDs = append(c.ParentIDs, id)
		case "author":
			c.Author.Decode([]byte(value))
		case "committer":
			c.Committer.Decode([]byte(value))
		case "encoding":
			c.Encoding = value
		default:
			// Unknown headers (gpgsig, mergetag, ...) are preserved only
			// in round-trip-sensitive callers; the core parser ignores
			// them, matching spec.md's header list being exhaustive for
			// what it models.
		}

		if err == io.EOF {
			break
		}
	}

	if !treeSeen {
		return gitkind.New(gitkind.Corrupt, "commit: missing tree header")
	}

	rest, err := io.ReadAll(br)
	if err != nil {
		return gitkind.Wrap(gitkind.Corrupt, err, "commit: reading message")
	}
	c.Charset = decodeMessageCharset(c.Encoding, rest)
	c.Message = string(rest)
	return nil
}

// Encode writes the canonical commit object body: headers in fixed order,
// a blank line, then the raw message bytes, with no trailing
// normalisation.
func (c *Commit) Encode(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "tree %s\n", c.TreeID); err != nil {
		return err
	}
	for _, p := range c.ParentIDs {
		if _, err := fmt.Fprintf(w, "parent %s\n", p); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "author "); err != nil {
		return err
	}
	if err := c.Author.Encode(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\ncommitter "); err != nil {
		return err
	}
	if err := c.Committer.Encode(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if c.Encoding != "" {
		if _, err := fmt.Fprintf(w, "encoding %s\n", c.Encoding); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	_, err := io.WriteString(w, c.Message)
	return err
}

// Bytes returns the canonical encoding.
func (c *Commit) Bytes() []byte {
	buf := &bytes.Buffer{}
	_ = c.Encode(buf)
	return buf.Bytes()
}
