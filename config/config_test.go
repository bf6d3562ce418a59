package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/suite"
)

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

const sampleConfig = `# a leading comment
[core]
	bare = false
	repositoryformatversion = 0
	compression = 2k
[remote "origin"]
	url = https://example.com/repo.git
	fetch = +refs/heads/*:refs/remotes/origin/*
[remote "Origin"]
	url = https://example.com/other.git
`

func (s *ConfigSuite) decode(src string) *Config {
	cfg := New()
	s.Require().NoError(NewDecoder(strings.NewReader(src)).Decode(cfg))
	return cfg
}

func (s *ConfigSuite) TestDecodeSectionCaseInsensitive() {
	cfg := s.decode(sampleConfig)
	s.True(cfg.HasSection("core"))
	s.True(cfg.HasSection("CORE"))
	s.Equal("false", cfg.Section("Core").Option("BARE"))
}

func (s *ConfigSuite) TestDecodeSubsectionCaseSensitive() {
	cfg := s.decode(sampleConfig)
	remote := cfg.Section("remote")
	s.True(remote.HasSubsection("origin"))
	s.True(remote.HasSubsection("Origin"))
	s.NotSame(remote.Subsection("origin"), remote.Subsection("Origin"))
}

func (s *ConfigSuite) TestDecodeMultiValue() {
	cfg := New()
	cfg.AddOption("remote", "origin", "fetch", "+refs/heads/a:refs/remotes/origin/a")
	cfg.AddOption("remote", "origin", "fetch", "+refs/heads/b:refs/remotes/origin/b")
	s.Equal([]string{
		"+refs/heads/a:refs/remotes/origin/a",
		"+refs/heads/b:refs/remotes/origin/b",
	}, cfg.GetAllOptions("remote", "origin", "fetch"))
	s.Equal("+refs/heads/b:refs/remotes/origin/b", cfg.GetOption("remote", "origin", "fetch"))
}

func (s *ConfigSuite) TestParseBool() {
	for _, v := range []string{"true", "YES", "On", "1", ""} {
		got, err := ParseBool(v)
		s.Require().NoError(err)
		s.True(got, v)
	}
	for _, v := range []string{"false", "NO", "Off", "0"} {
		got, err := ParseBool(v)
		s.Require().NoError(err)
		s.False(got, v)
	}
	_, err := ParseBool("maybe")
	s.Error(err)
}

func (s *ConfigSuite) TestParseInt64Multipliers() {
	cases := map[string]int64{
		"10":  10,
		"2k":  2 * 1024,
		"2K":  2 * 1024,
		"1m":  1024 * 1024,
		"1g":  1024 * 1024 * 1024,
		"-5k": -5 * 1024,
	}
	for in, want := range cases {
		got, err := ParseInt64(in)
		s.Require().NoError(err, in)
		s.Equal(want, got, in)
	}
	_, err := ParseInt64("not-a-number")
	s.Error(err)
}

func (s *ConfigSuite) TestSectionBoolAndInt64Helpers() {
	cfg := s.decode(sampleConfig)
	core := cfg.Section("core")
	s.False(core.Bool("bare", true))
	s.Equal(int64(2*1024), core.Int64("compression", -1))
	s.Equal(int64(-1), core.Int64("missing", -1))
}

func (s *ConfigSuite) TestEncodeUntouchedSectionPreservedVerbatim() {
	cfg := s.decode(sampleConfig)

	var buf bytes.Buffer
	s.Require().NoError(NewEncoder(&buf).Encode(cfg))

	// nothing was mutated, so every section's raw bytes round-trip exactly
	s.Equal(sampleConfig, buf.String())
}

func (s *ConfigSuite) TestEncodeDirtySectionIsRewritten() {
	cfg := s.decode(sampleConfig)
	cfg.Section("core").SetOption("bare", "true")

	var buf bytes.Buffer
	s.Require().NoError(NewEncoder(&buf).Encode(cfg))
	out := buf.String()

	s.Contains(out, "bare = true")
	s.NotContains(out, "bare = false")
	// untouched sections still come through verbatim
	s.Contains(out, `url = https://example.com/repo.git`)
}

func (s *ConfigSuite) TestEncodeQuotesValuesNeedingEscaping() {
	cfg := New()
	cfg.AddOption("user", NoSubsection, "name", `Jane "JD" Doe`)

	var buf bytes.Buffer
	s.Require().NoError(NewEncoder(&buf).Encode(cfg))
	s.Contains(buf.String(), `name = "Jane \"JD\" Doe"`)
}

func (s *ConfigSuite) TestMergedSectionPriorityOrder() {
	m := NewMerged()
	m.SetSystemConfig(s.decode("[core]\n\tbare = true\n\tfilemode = false\n"))
	m.SetGlobalConfig(s.decode("[core]\n\tbare = false\n"))
	m.SetLocalConfig(New())

	core := m.Section("core")
	s.Equal("false", core.Option("bare")) // global overrides system
	s.Equal("false", core.Option("filemode"))
}

func (s *ConfigSuite) TestEffectiveCoreUsesMergoOverride() {
	m := NewMerged()
	m.SetSystemConfig(s.decode("[core]\n\tbare = true\n\tfilemode = false\n"))
	m.SetGlobalConfig(s.decode("[core]\n\tbare = false\n"))
	m.SetLocalConfig(New())

	ec, err := m.EffectiveCore()
	s.Require().NoError(err)
	s.False(ec.Bare)      // global's explicit "false" overrides system's "true"
	s.False(ec.FileMode) // untouched by global/local, system's value survives
}

func (s *ConfigSuite) TestLoadMergedReadsLocalFromBilly() {
	fs := memfs.New()
	f, err := fs.Create(".git/config")
	s.Require().NoError(err)
	_, err = f.Write([]byte("[core]\n\tbare = true\n"))
	s.Require().NoError(err)
	s.Require().NoError(f.Close())

	m, err := LoadMerged(fs, ".git/config")
	s.Require().NoError(err)
	s.Equal("true", m.LocalConfig().Section("core").Option("bare"))
}
