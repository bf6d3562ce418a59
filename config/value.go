package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBool parses git's boolean value vocabulary (spec.md §4.7):
// "true"/"yes"/"on"/"1" and "false"/"no"/"off"/"0", case-insensitively.
// An empty string is also true, matching git's "key present with no
// value" shorthand for a boolean option.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	default:
		return false, fmt.Errorf("config: invalid boolean value %q", s)
	}
}

// ParseInt64 parses an integer value with an optional case-insensitive
// k/m/g suffix meaning *1024, *1024*1024 or *1024*1024*1024, spec.md
// §4.7.
func ParseInt64(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("config: invalid integer value %q", s)
	}

	mult := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid integer value %q: %w", s, err)
	}
	return n * mult, nil
}

// Bool returns the boolean value of key in the section, or def if the key
// is absent or unparsable.
func (s *Section) Bool(key string, def bool) bool {
	if !s.HasOption(key) {
		return def
	}
	v, err := ParseBool(s.Option(key))
	if err != nil {
		return def
	}
	return v
}

// Int64 returns the integer value of key in the section, or def if the
// key is absent or unparsable.
func (s *Section) Int64(key string, def int64) int64 {
	if !s.HasOption(key) {
		return def
	}
	v, err := ParseInt64(s.Option(key))
	if err != nil {
		return def
	}
	return v
}
