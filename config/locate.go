package config

import (
	"fmt"
	"os"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Paths returns the candidate config file locations for scope, in the
// order they should be probed, mirroring git's own search path.
// LocalScope has no fixed path: it lives inside a specific repository's
// git directory and is the caller's responsibility to open.
func Paths(scope Scope) ([]string, error) {
	var files []string
	switch scope {
	case GlobalScope:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			files = append(files, filepath.Join(xdg, "git/config"))
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: resolving home directory: %w", err)
		}
		files = append(files,
			filepath.Join(home, ".gitconfig"),
			filepath.Join(home, ".config/git/config"),
		)
	case SystemScope:
		files = append(files, "/etc/gitconfig")
	case LocalScope:
		return nil, fmt.Errorf("config: LocalScope has no fixed path, open it explicitly")
	}
	return files, nil
}

// Load reads the first existing file among Paths(scope) using fs (pass
// osfs.Default for the real filesystem), returning an empty Config if
// none exist.
func Load(fs billy.Filesystem, scope Scope) (*Config, error) {
	if fs == nil {
		fs = osfs.Default
	}
	files, err := Paths(scope)
	if err != nil {
		return nil, err
	}

	for _, path := range files {
		f, err := fs.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: opening %s: %w", path, err)
		}
		cfg := New()
		decErr := NewDecoder(f).Decode(cfg)
		_ = f.Close()
		if decErr != nil {
			return nil, fmt.Errorf("config: decoding %s: %w", path, decErr)
		}
		return cfg, nil
	}
	return New(), nil
}

// LoadMerged loads System, Global and local (from localFS/localPath, both
// optional) into one Merged view.
func LoadMerged(localFS billy.Filesystem, localPath string) (*Merged, error) {
	m := NewMerged()

	sys, err := Load(nil, SystemScope)
	if err != nil {
		return nil, err
	}
	m.SetSystemConfig(sys)

	glob, err := Load(nil, GlobalScope)
	if err != nil {
		return nil, err
	}
	m.SetGlobalConfig(glob)

	if localFS != nil && localPath != "" {
		f, err := localFS.Open(localPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: opening %s: %w", localPath, err)
			}
			m.SetLocalConfig(New())
		} else {
			local := New()
			decErr := NewDecoder(f).Decode(local)
			_ = f.Close()
			if decErr != nil {
				return nil, fmt.Errorf("config: decoding %s: %w", localPath, decErr)
			}
			m.SetLocalConfig(local)
		}
	} else {
		m.SetLocalConfig(New())
	}

	return m, nil
}
