package object

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Signature is a commit/tag author or committer identity: spec.md §3 names
// the grammar as `Name <email> <unix-seconds> <±HHMM>`, tolerant of an empty
// name, an empty email, or a missing time/timezone (which decode to the
// Unix epoch at UTC rather than erroring).
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Decode parses a single identity line's value (without the leading header
// keyword) into s. Malformed input never errors: fields git considers
// missing decode to their zero values, matching spec.md §4.8 ("tolerant on
// malformed identity lines").
func (s *Signature) Decode(b []byte) {
	*s = Signature{When: time.Unix(0, 0).UTC()}

	open := bytes.LastIndexByte(b, '<')
	close := bytes.LastIndexByte(b, '>')
	if open == -1 || close == -1 || close < open {
		s.Name = string(bytes.TrimSpace(b))
		return
	}

	s.Name = string(bytes.TrimSpace(b[:open]))
	s.Email = string(b[open+1 : close])

	tail := bytes.TrimSpace(b[close+1:])
	if len(tail) == 0 {
		return
	}

	fields := bytes.Fields(tail)
	if len(fields) == 0 {
		return
	}

	secs, err := strconv.ParseInt(string(fields[0]), 10, 64)
	if err != nil {
		return
	}

	loc := time.UTC
	if len(fields) > 1 {
		if tz, ok := parseTimezone(string(fields[1])); ok {
			loc = tz
		}
	}
	s.When = time.Unix(secs, 0).In(loc)
}

func parseTimezone(s string) (*time.Location, bool) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return nil, false
	}
	hh, err1 := strconv.Atoi(s[1:3])
	mm, err2 := strconv.Atoi(s[3:5])
	if err1 != nil || err2 != nil {
		return nil, false
	}
	offset := hh*3600 + mm*60
	if s[0] == '-' {
		offset = -offset
	}
	return time.FixedZone(s, offset), true
}

// Encode writes the canonical identity line value: name, email, unix
// seconds and a ±HHMM offset, with no trailing normalisation of the
// inputs beyond what the grammar requires.
func (s *Signature) Encode(w io.Writer) error {
	_, tzo := s.When.Zone()
	sign := "+"
	if tzo < 0 {
		sign = "-"
		tzo = -tzo
	}
	_, err := fmt.Fprintf(w, "%s <%s> %d %s%02d%02d",
		s.Name, s.Email, s.When.Unix(), sign, tzo/3600, (tzo/60)%60)
	return err
}

func (s Signature) String() string {
	buf := &bytes.Buffer{}
	_ = s.Encode(buf)
	return buf.String()
}
