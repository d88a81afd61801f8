package database

import (
	"testing"

	"shx-go/internal/config"
)

func TestNewCacheFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CacheConfig
		wantErr bool
	}{
		{"memory", config.CacheConfig{Type: "memory"}, false},
		{"none", config.CacheConfig{Type: "none"}, false},
		{"sqlite", config.CacheConfig{Type: "sqlite", DataDir: t.TempDir()}, false},
		{"badger", config.CacheConfig{Type: "badger", DataDir: t.TempDir()}, false},
		{"sqlite without data_dir", config.CacheConfig{Type: "sqlite"}, true},
		{"badger without data_dir", config.CacheConfig{Type: "badger"}, true},
		{"unknown", config.CacheConfig{Type: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewCacheFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewCacheFromConfig() expected error, got nil")
				}
				if got != nil {
					t.Errorf("NewCacheFromConfig() should return nil on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewCacheFromConfig() unexpected error: %v", err)
			}
			if got == nil {
				t.Fatal("NewCacheFromConfig() returned nil")
			}
			if err := got.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}
