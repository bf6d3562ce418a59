// Package config implements the INI-like configuration format described
// in spec.md §4.7 (C7): sections and `[section "subsection"]` headers,
// case-insensitive section/key names, case-sensitive subsection names,
// multi-value keys, and scope-priority merging across system, global and
// local files.
package config

import (
	"fmt"
	"strings"
)

// NoSubsection is passed to Section/SetOption/etc. to mean "no subsection".
const NoSubsection = ""

// Option is one "key = value" pair.
type Option struct {
	Key   string
	Value string
}

// IsKey reports whether name matches o.Key case-insensitively, spec.md
// §4.7 "key names are case-insensitive".
func (o *Option) IsKey(name string) bool {
	return strings.EqualFold(o.Key, name)
}

// Options is an ordered list of Option, preserving insertion order so a
// later duplicate key can shadow (Option/OptionAll "last one wins") or
// extend (AddOption) an earlier one.
type Options []*Option

// Get returns the last value for name, or "" if absent.
func (s Options) Get(name string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].IsKey(name) {
			return s[i].Value
		}
	}
	return ""
}

// GetAll returns every value for name, in file order.
func (s Options) GetAll(name string) []string {
	out := []string{}
	for _, o := range s {
		if o.IsKey(name) {
			out = append(out, o.Value)
		}
	}
	return out
}

// Has reports whether name is present at all.
func (s Options) Has(name string) bool {
	for _, o := range s {
		if o.IsKey(name) {
			return true
		}
	}
	return false
}

// Subsection is a named, case-sensitive grouping inside a Section, e.g.
// `[remote "origin"]`.
type Subsection struct {
	Name    string
	Options Options

	dirty bool
}

// IsName reports whether name matches, case-sensitively (spec.md §4.7).
func (s *Subsection) IsName(name string) bool { return s.Name == name }

func (s *Subsection) Option(key string) string      { return s.Options.Get(key) }
func (s *Subsection) OptionAll(key string) []string { return s.Options.GetAll(key) }
func (s *Subsection) HasOption(key string) bool     { return s.Options.Has(key) }

// AddOption appends key=value, keeping any earlier values for the same
// key (multi-value semantics).
func (s *Subsection) AddOption(key, value string) *Subsection {
	s.Options = append(s.Options, &Option{Key: key, Value: value})
	s.dirty = true
	return s
}

// SetOption replaces every existing value for key with values, or
// appends if key was absent, spec.md §4.7 "a key may appear repeatedly".
func (s *Subsection) SetOption(key string, values ...string) *Subsection {
	s.Options = setOption(s.Options, key, values)
	s.dirty = true
	return s
}

// RemoveOption drops every value for key.
func (s *Subsection) RemoveOption(key string) *Subsection {
	s.Options = removeOption(s.Options, key)
	s.dirty = true
	return s
}

func (s *Subsection) GoString() string {
	return fmt.Sprintf("&config.Subsection{Name:%q, Options:%s}", s.Name, optionsGoString(s.Options))
}

// Subsections is an ordered list of Subsection.
type Subsections []*Subsection

func (s Subsections) GoString() string {
	parts := make([]string, len(s))
	for i, ss := range s {
		parts[i] = ss.GoString()
	}
	return strings.Join(parts, ", ")
}

// Section is a top-level `[name]` block, holding direct options plus any
// `[name "sub"]` subsections.
type Section struct {
	Name        string
	Options     Options
	Subsections Subsections

	dirty bool
	raw   []byte // verbatim source bytes, nil if this Section never came from a file
}

// IsName reports whether name matches, case-insensitively (spec.md §4.7).
func (s *Section) IsName(name string) bool { return strings.EqualFold(s.Name, name) }

func (s *Section) Option(key string) string      { return s.Options.Get(key) }
func (s *Section) OptionAll(key string) []string { return s.Options.GetAll(key) }
func (s *Section) HasOption(key string) bool     { return s.Options.Has(key) }

func (s *Section) AddOption(key, value string) *Section {
	s.Options = append(s.Options, &Option{Key: key, Value: value})
	s.dirty = true
	return s
}

func (s *Section) SetOption(key string, values ...string) *Section {
	s.Options = setOption(s.Options, key, values)
	s.dirty = true
	return s
}

func (s *Section) RemoveOption(key string) *Section {
	s.Options = removeOption(s.Options, key)
	s.dirty = true
	return s
}

// Subsection returns the named subsection, creating it if absent.
func (s *Section) Subsection(name string) *Subsection {
	for _, ss := range s.Subsections {
		if ss.IsName(name) {
			return ss
		}
	}
	ss := &Subsection{Name: name}
	s.Subsections = append(s.Subsections, ss)
	s.dirty = true
	return ss
}

func (s *Section) HasSubsection(name string) bool {
	for _, ss := range s.Subsections {
		if ss.IsName(name) {
			return true
		}
	}
	return false
}

func (s *Section) RemoveSubsection(name string) *Section {
	result := Subsections{}
	for _, ss := range s.Subsections {
		if !ss.IsName(name) {
			result = append(result, ss)
		}
	}
	s.Subsections = result
	s.dirty = true
	return s
}

func (s *Section) GoString() string {
	parts := []string{fmt.Sprintf("Name:%q", s.Name)}
	parts = append(parts, fmt.Sprintf("Options:%s", optionsGoString(s.Options)))
	parts = append(parts, fmt.Sprintf("Subsections:%s", s.Subsections.GoString()))
	return "&config.Section{" + strings.Join(parts, ", ") + "}"
}

// Sections is an ordered list of Section.
type Sections []*Section

func (s Sections) GoString() string {
	parts := make([]string, len(s))
	for i, sec := range s {
		parts[i] = sec.GoString()
	}
	return strings.Join(parts, ", ")
}

func optionsGoString(opts Options) string {
	parts := make([]string, len(opts))
	for i, o := range opts {
		parts[i] = fmt.Sprintf("&config.Option{Key:%q, Value:%q}", o.Key, o.Value)
	}
	return strings.Join(parts, ", ")
}

func setOption(opts Options, key string, values []string) Options {
	out := Options{}
	inserted := false
	for _, o := range opts {
		if !o.IsKey(key) {
			out = append(out, o)
			continue
		}
		if !inserted {
			for _, v := range values {
				out = append(out, &Option{Key: key, Value: v})
			}
			inserted = true
		}
	}
	if !inserted {
		for _, v := range values {
			out = append(out, &Option{Key: key, Value: v})
		}
	}
	return out
}

func removeOption(opts Options, key string) Options {
	out := Options{}
	for _, o := range opts {
		if !o.IsKey(key) {
			out = append(out, o)
		}
	}
	return out
}

// Comment is free text captured from a leading '#' or ';' line.
type Comment string

// Config is the fully parsed contents of one configuration file.
type Config struct {
	Comment  Comment
	Sections Sections

	raw      []byte // the exact bytes Decode read, for preserving untouched sections on write
	preamble []byte // bytes before the first section header (leading comments), reproduced verbatim
}

// New returns an empty Config.
func New() *Config { return &Config{} }

// Section returns the named section, creating it (case-insensitively
// matched against existing ones) if absent.
func (c *Config) Section(name string) *Section {
	for _, s := range c.Sections {
		if s.IsName(name) {
			return s
		}
	}
	s := &Section{Name: name}
	c.Sections = append(c.Sections, s)
	return s
}

func (c *Config) HasSection(name string) bool {
	for _, s := range c.Sections {
		if s.IsName(name) {
			return true
		}
	}
	return false
}

func (c *Config) RemoveSection(name string) *Config {
	result := Sections{}
	for _, s := range c.Sections {
		if !s.IsName(name) {
			result = append(result, s)
		}
	}
	c.Sections = result
	return c
}

func (c *Config) RemoveSubsection(section, subsection string) *Config {
	if s := c.Section(section); s != nil {
		s.RemoveSubsection(subsection)
	}
	return c
}

// AddOption adds key=value to section[.subsection], using NoSubsection
// for a top-level section option.
func (c *Config) AddOption(section, subsection, key, value string) *Config {
	if subsection == NoSubsection {
		c.Section(section).AddOption(key, value)
	} else {
		c.Section(section).Subsection(subsection).AddOption(key, value)
	}
	return c
}

func (c *Config) SetOption(section, subsection, key string, values ...string) *Config {
	if subsection == NoSubsection {
		c.Section(section).SetOption(key, values...)
	} else {
		c.Section(section).Subsection(subsection).SetOption(key, values...)
	}
	return c
}

// GetOption returns the last value of key in section[.subsection], or ""
// if absent — git's "last one wins" rule, spec.md §4.7.
func (c *Config) GetOption(section, subsection, key string) string {
	if subsection == NoSubsection {
		return c.Section(section).Option(key)
	}
	return c.Section(section).Subsection(subsection).Option(key)
}

// GetAllOptions returns every value of key in section[.subsection], in
// file order.
func (c *Config) GetAllOptions(section, subsection, key string) []string {
	if subsection == NoSubsection {
		return c.Section(section).OptionAll(key)
	}
	return c.Section(section).Subsection(subsection).OptionAll(key)
}
