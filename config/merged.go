package config

import (
	"dario.cat/mergo"
)

// Scope identifies which file a Config came from, lowest to highest
// priority.
type Scope int

const (
	SystemScope Scope = iota
	GlobalScope
	LocalScope
	NumScopes
)

// ScopedConfigs holds at most one Config per Scope.
type ScopedConfigs map[Scope]*Config

// Merged presents a read-only, priority-merged view across up to three
// config files: local options override global, which overrides system,
// mirroring the teacher's System/Global/Local precedence.
type Merged struct {
	scopedConfigs ScopedConfigs
}

// NewMerged returns an empty Merged with no scopes loaded.
func NewMerged() *Merged {
	return &Merged{scopedConfigs: ScopedConfigs{}}
}

func (m *Merged) ScopedConfig(scope Scope) *Config { return m.scopedConfigs[scope] }
func (m *Merged) LocalConfig() *Config             { return m.scopedConfigs[LocalScope] }
func (m *Merged) GlobalConfig() *Config            { return m.scopedConfigs[GlobalScope] }
func (m *Merged) SystemConfig() *Config            { return m.scopedConfigs[SystemScope] }

func (m *Merged) SetLocalConfig(c *Config)  { m.scopedConfigs[LocalScope] = c }
func (m *Merged) SetGlobalConfig(c *Config) { m.scopedConfigs[GlobalScope] = c }
func (m *Merged) SetSystemConfig(c *Config) { m.scopedConfigs[SystemScope] = c }

// MergedOption is an Option as seen through a Merged view: it remembers
// which Scope it came from so higher-priority values can shadow it.
type MergedOption struct {
	*Option
	Scope Scope
}

// MergedSubsection is a read-only, priority-merged view of a Subsection.
type MergedSubsection struct {
	name    string
	options []*MergedOption
}

func (ms *MergedSubsection) Name() string       { return ms.name }
func (ms *MergedSubsection) IsName(n string) bool { return ms.name == n }

func (ms *MergedSubsection) Option(key string) string {
	for i := len(ms.options) - 1; i >= 0; i-- {
		if ms.options[i].IsKey(key) {
			return ms.options[i].Value
		}
	}
	return ""
}

func (ms *MergedSubsection) Options() []*MergedOption { return ms.options }

// MergedSection is a read-only, priority-merged view of a Section across
// every loaded Scope.
type MergedSection struct {
	name        string
	options     []*MergedOption
	subsections map[string]*MergedSubsection
	subOrder    []string
}

func (msec *MergedSection) Name() string         { return msec.name }
func (msec *MergedSection) IsName(n string) bool { return msec.name == n }

func (msec *MergedSection) Option(key string) string {
	for i := len(msec.options) - 1; i >= 0; i-- {
		if msec.options[i].IsKey(key) {
			return msec.options[i].Value
		}
	}
	return ""
}

func (msec *MergedSection) Options() []*MergedOption { return msec.options }

func (msec *MergedSection) Subsection(name string) *MergedSubsection {
	return msec.subsections[name]
}

func (msec *MergedSection) HasSubsection(name string) bool {
	_, ok := msec.subsections[name]
	return ok
}

func (msec *MergedSection) Subsections() []*MergedSubsection {
	out := make([]*MergedSubsection, 0, len(msec.subOrder))
	for _, n := range msec.subOrder {
		out = append(out, msec.subsections[n])
	}
	return out
}

// Section builds the priority-merged view of name across every loaded
// scope, System first, then Global, then Local, so later scopes' options
// are appended after earlier ones and Option()'s last-wins scan finds
// them first.
func (m *Merged) Section(name string) *MergedSection {
	msec := &MergedSection{name: name, subsections: map[string]*MergedSubsection{}}
	for scope := Scope(0); scope < NumScopes; scope++ {
		cfg := m.scopedConfigs[scope]
		if cfg == nil || !cfg.HasSection(name) {
			continue
		}
		sec := cfg.Section(name)
		for _, o := range sec.Options {
			msec.options = append(msec.options, &MergedOption{Option: o, Scope: scope})
		}
		for _, ss := range sec.Subsections {
			ms, ok := msec.subsections[ss.Name]
			if !ok {
				ms = &MergedSubsection{name: ss.Name}
				msec.subsections[ss.Name] = ms
				msec.subOrder = append(msec.subOrder, ss.Name)
			}
			for _, o := range ss.Options {
				ms.options = append(ms.options, &MergedOption{Option: o, Scope: scope})
			}
		}
	}
	return msec
}

// EffectiveCore is a typed view of the [core] section's most common
// settings, resolved across scopes with dario.cat/mergo: each scope is
// decoded into its own EffectiveCore and folded into the result in
// priority order (System, then Global, then Local) using
// mergo.WithOverride, so a field a higher-priority scope sets (an explicit
// false or 0 included) replaces the lower ones while a field it leaves
// unset keeps them —
// "later/higher scope wins, earlier scope fills the gaps" for a fixed,
// known set of keys, complementing Section's generic last-value-wins
// merge for arbitrary keys.
type EffectiveCore struct {
	Bare                  bool
	RepositoryFormatVersion string
	FileMode              bool
	LogAllRefUpdates      bool
	CompressionLevel      int64
}

func coreFromSection(sec *Section) EffectiveCore {
	ec := EffectiveCore{}
	if sec.HasOption("bare") {
		ec.Bare = sec.Bool("bare", false)
	}
	if sec.HasOption("repositoryformatversion") {
		ec.RepositoryFormatVersion = sec.Option("repositoryformatversion")
	}
	if sec.HasOption("filemode") {
		ec.FileMode = sec.Bool("filemode", true)
	}
	if sec.HasOption("logallrefupdates") {
		ec.LogAllRefUpdates = sec.Bool("logallrefupdates", false)
	}
	if sec.HasOption("compression") {
		ec.CompressionLevel = sec.Int64("compression", -1)
	}
	return ec
}

// EffectiveCore resolves the [core] section across System, Global and
// Local scopes into one struct, System applied first and Local last.
func (m *Merged) EffectiveCore() (EffectiveCore, error) {
	result := EffectiveCore{}
	for scope := Scope(0); scope < NumScopes; scope++ {
		cfg := m.scopedConfigs[scope]
		if cfg == nil || !cfg.HasSection("core") {
			continue
		}
		sec := cfg.Section("core")
		layer := coreFromSection(sec)
		if err := mergo.Merge(&result, layer, mergo.WithOverride); err != nil {
			return EffectiveCore{}, err
		}
		// mergo skips zero values, so explicit false/0 settings are copied here
		if sec.HasOption("bare") {
			result.Bare = layer.Bare
		}
		if sec.HasOption("filemode") {
			result.FileMode = layer.FileMode
		}
		if sec.HasOption("logallrefupdates") {
			result.LogAllRefUpdates = layer.LogAllRefUpdates
		}
		if sec.HasOption("compression") {
			result.CompressionLevel = layer.CompressionLevel
		}
	}
	return result, nil
}
