package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for shx.
type Config struct {
	LogDir     string           `toml:"log_dir" validate:"required"`
	LogLevel   string           `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Dedup      DedupConfig      `toml:"dedup"`
	Cache      CacheConfig      `toml:"cache"`
	Backup     BackupConfig     `toml:"backup"`
	Encryption EncryptionConfig `toml:"encryption"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// DedupConfig tunes duplicate detection.
type DedupConfig struct {
	Workers     int   `toml:"workers" validate:"gte=0,lte=256"` // 0 means one per CPU
	PartialSize int64 `toml:"partial_size" validate:"gt=0,lte=67108864"`
	MinSize     int64 `toml:"min_size" validate:"gte=0"`
}

// CacheConfig selects the fingerprint digest cache.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CacheConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite badger memory none"`
	DataDir string `toml:"data_dir,omitempty"` // sqlite and badger only
}

// BackupConfig controls store snapshots.
type BackupConfig struct {
	Enabled bool        `toml:"enabled"`
	Vault   VaultConfig `toml:"vault"`
}

// VaultConfig represents configuration for a snapshot vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type" validate:"omitempty,oneof=memory filesystem s3"`
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty" validate:"omitempty,url"`

	// Static credentials; the default AWS credential chain is used when empty.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig selects how snapshots are encrypted.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"oneof=none age test"`
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// NewConfig returns the defaults for a data directory.
func NewConfig(baseDir string) *Config {
	return &Config{
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Dedup: DedupConfig{
			PartialSize: 4096,
		},
		Cache: CacheConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "cache"),
		},
		Backup: BackupConfig{
			Vault: VaultConfig{
				Type:        "filesystem",
				Name:        "local",
				FSVaultRoot: filepath.Join(baseDir, "vault"),
			},
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "shx.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "shx.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if err := m.ReadInto(r, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReadInto decodes r over cfg; keys absent from r keep their current values.
func (m *Manager) ReadInto(r io.Reader, cfg *Config) error {
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the file at path over the defaults for baseDir and validates the
// result. A missing file is not an error.
func Load(path, baseDir string) (*Config, error) {
	cfg := NewConfig(baseDir)

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	default:
		defer f.Close()
		m := &Manager{}
		if err := m.ReadInto(f, cfg); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
