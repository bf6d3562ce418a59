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

// Tag is the parsed form of an annotated tag object, spec.md §3 "Tag".
type Tag struct {
	ObjectID   objid.ID
	ObjectType Type
	Name       string
	Tagger     Signature
	Charset    Charset
	Message    string
}

// Decode parses a canonical tag object body:
// object/type/tag/tagger headers, a blank line, then the message.
func (t *Tag) Decode(r io.Reader) error {
	*t = Tag{}

	br := bufio.NewReader(r)
	var objSeen, typeSeen, tagSeen bool

	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return gitkind.Wrap(gitkind.Corrupt, err, "tag: reading header")
		}
		trimmed := strings.TrimSuffix(line, "\n")
		if trimmed == "" {
			break
		}

		sp := strings.IndexByte(trimmed, ' ')
		if sp < 0 {
			return gitkind.Newf(gitkind.Corrupt, "tag: malformed header line %q", trimmed)
		}
		key, value := trimmed[:sp], trimmed[sp+1:]

		switch key {
		case "object":
			id, perr := objid.FromHex(value)
			if perr != nil {
				return gitkind.Wrap(gitkind.Corrupt, perr, "tag: invalid object id")
			}
			t.ObjectID = id
			objSeen = true
		case "type":
			typ, perr := ParseType(value)
			if perr != nil {
				return gitkind.Wrap(gitkind.Corrupt, perr, "tag: invalid type")
			}
			t.ObjectType = typ
			typeSeen = true
		case "tag":
			t.Name = value
			tagSeen = true
		case "tagger":
			t.Tagger.Decode([]byte(value))
		}

		if err == io.EOF {
			break
		}
	}

	if !objSeen || !typeSeen || !tagSeen {
		return gitkind.New(gitkind.Corrupt, "tag: missing required header")
	}

	rest, err := io.ReadAll(br)
	if err != nil {
		return gitkind.Wrap(gitkind.Corrupt, err, "tag: reading message")
	}
	t.Charset = decodeMessageCharset("", rest)
	t.Message = string(rest)
	return nil
}

// Encode writes the canonical tag object body.
func (t *Tag) Encode(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "object %s\n", t.ObjectID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "type %s\n", t.ObjectType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "tag %s\n", t.Name); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "tagger "); err != nil {
		return err
	}
	if err := t.Tagger.Encode(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n\n"); err != nil {
		return err
	}
	_, err := io.WriteString(w, t.Message)
	return err
}

// Bytes returns the canonical encoding.
func (t *Tag) Bytes() []byte {
	buf := &bytes.Buffer{}
	_ = t.Encode(buf)
	return buf.Bytes()
}
