package database

import (
	"fmt"
	"os"
	"path/filepath"

	"shx-go/internal/config"
	"shx-go/internal/shx"
)

var (
	_ shx.DigestCache = (*SQLiteCache)(nil)
	_ shx.DigestCache = (*BadgerCache)(nil)
	_ shx.DigestCache = (*MemoryCache)(nil)
	_ shx.DigestCache = NopCache{}
)

// NewCacheFromConfig creates the digest cache selected by cfg.Type.
func NewCacheFromConfig(cfg config.CacheConfig) (shx.DigestCache, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite cache")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		return NewSQLiteCache(filepath.Join(cfg.DataDir, "fingerprints.db"))
	case "badger":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for badger cache")
		}
		return NewBadgerCache(filepath.Join(cfg.DataDir, "fingerprints.badger"))
	case "memory":
		return NewMemoryCache(), nil
	case "none", "":
		return NopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
