package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/gcfg/v2"
)

// Decoder reads and decodes config files from an input stream, following
// the same gcfg-backed grammar as the teacher's own decoder: gcfg handles
// line continuation, quoting and escaping; the callback it drives just
// dispatches into the Config/Section/Subsection/Option model.
type Decoder struct {
	io.Reader
}

// NewDecoder returns a new decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r}
}

// Decode reads the whole config from its input and stores it in config.
//
// In addition to populating the section/option tree, Decode captures the
// raw bytes of each top-level section so Encode can reproduce untouched
// sections (including comments and formatting quirks gcfg itself doesn't
// preserve) byte-for-byte, per spec.md §4.7's write-back requirement.
func (d *Decoder) Decode(config *Config) error {
	raw, err := io.ReadAll(d.Reader)
	if err != nil {
		return fmt.Errorf("config: reading input: %w", err)
	}
	config.raw = raw

	cb := func(s, ss, k, v string, _ bool) error {
		if ss == "" && k == "" {
			config.Section(s)
			return nil
		}
		if ss != "" && k == "" {
			config.Section(s).Subsection(ss)
			return nil
		}
		config.AddOption(s, ss, k, v)
		return nil
	}
	if err := gcfg.ReadWithCallback(bytes.NewReader(raw), cb); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	assignRawSpans(config, raw)
	for _, sec := range config.Sections {
		sec.dirty = false
		for _, ss := range sec.Subsections {
			ss.dirty = false
		}
	}
	return nil
}

// assignRawSpans finds each top-level "[name ...]" header line in raw and
// records the byte range from that header (inclusive) to the byte before
// the next header of a different section (or EOF) as the owning Section's
// raw bytes; consecutive `[name "sub"]` headers of one section share a
// single span. Sections are matched to spans by appearance order, which is
// how gcfg invokes the callback for a well-formed file.
func assignRawSpans(config *Config, raw []byte) {
	type span struct {
		name       string
		start, end int
	}
	var spans []span
	var offset int
	preambleEnd := -1

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var cur *span
	for scanner.Scan() {
		line := scanner.Text()
		lineStart := offset
		offset += len(line) + 1 // +1 for the newline the scanner stripped

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			if preambleEnd == -1 {
				preambleEnd = lineStart
			}
			name := strings.TrimPrefix(trimmed, "[")
			if i := strings.IndexAny(name, " \t\"]"); i >= 0 {
				name = name[:i]
			}
			if cur != nil && strings.EqualFold(cur.name, name) {
				continue
			}
			if cur != nil {
				cur.end = lineStart
				spans = append(spans, *cur)
			}
			cur = &span{name: name, start: lineStart}
		}
	}
	if cur != nil {
		cur.end = len(raw)
		spans = append(spans, *cur)
	}

	if preambleEnd > 0 {
		config.preamble = raw[:preambleEnd]
	}

	// Sections appear in config.Sections in the same order their first
	// header line was seen, so pair them up positionally.
	for i, sec := range config.Sections {
		if i >= len(spans) {
			break
		}
		sp := spans[i]
		sec.raw = raw[sp.start:sp.end]
	}
}
