package app

import (
	"fmt"
	"os"
	"path/filepath"

	"shx-go/internal/config"
)

// Paths are the default locations shx reads and writes outside managed roots.
type Paths struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves default paths. Environment variables win:
//   - SHX_CONFIG_PATH: config file (default ~/.config/shx.toml)
//   - SHX_HOME: data directory for logs, cache, keys and the local vault
//     (default ~/.local/share/shx)
func GetDefaults() (Paths, error) {
	var p Paths
	home, homeErr := os.UserHomeDir()

	p.ConfigPath = os.Getenv("SHX_CONFIG_PATH")
	if p.ConfigPath == "" {
		if homeErr != nil {
			return Paths{}, fmt.Errorf("cannot determine home directory: %w", homeErr)
		}
		p.ConfigPath = filepath.Join(home, ".config", "shx.toml")
	}

	p.BaseDir = os.Getenv("SHX_HOME")
	if p.BaseDir == "" {
		if homeErr != nil {
			return Paths{}, fmt.Errorf("cannot determine home directory: %w", homeErr)
		}
		p.BaseDir = filepath.Join(home, ".local", "share", "shx")
	}

	p.LogDir = filepath.Join(p.BaseDir, "log")
	return p, nil
}

// LoadConfig reads the config at configPath, or at the default location when
// configPath is empty. A missing file yields the defaults.
func LoadConfig(configPath string) (*config.Config, Paths, error) {
	paths, err := GetDefaults()
	if err != nil {
		return nil, Paths{}, err
	}
	if configPath != "" {
		paths.ConfigPath = configPath
	}
	cfg, err := config.Load(paths.ConfigPath, paths.BaseDir)
	if err != nil {
		return nil, paths, err
	}
	return cfg, paths, nil
}
