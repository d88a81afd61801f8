package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("SHX_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("SHX_HOME", "/custom/shx")

		paths, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		want := Paths{
			ConfigPath: "/custom/config.toml",
			BaseDir:    "/custom/shx",
			LogDir:     "/custom/shx/log",
		}
		if paths != want {
			t.Errorf("GetDefaults() = %+v, want %+v", paths, want)
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("SHX_CONFIG_PATH", "")
		t.Setenv("SHX_HOME", "")

		paths, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		wantBase := filepath.Join(homeDir, ".local", "share", "shx")
		want := Paths{
			ConfigPath: filepath.Join(homeDir, ".config", "shx.toml"),
			BaseDir:    wantBase,
			LogDir:     filepath.Join(wantBase, "log"),
		}
		if paths != want {
			t.Errorf("GetDefaults() = %+v, want %+v", paths, want)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("SHX_HOME", home)
		t.Setenv("SHX_CONFIG_PATH", filepath.Join(home, "absent.toml"))

		cfg, paths, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.LogDir != paths.LogDir {
			t.Errorf("LogDir = %q, want %q", cfg.LogDir, paths.LogDir)
		}
		if cfg.Cache.Type != "sqlite" {
			t.Errorf("Cache.Type = %q, want sqlite", cfg.Cache.Type)
		}
	})

	t.Run("flag overrides env", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("SHX_HOME", home)
		t.Setenv("SHX_CONFIG_PATH", filepath.Join(home, "absent.toml"))

		path := filepath.Join(home, "explicit.toml")
		if err := os.WriteFile(path, []byte("log_level = \"debug\"\n"), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, paths, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if paths.ConfigPath != path {
			t.Errorf("ConfigPath = %q, want %q", paths.ConfigPath, path)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
	})

	t.Run("invalid file is an error", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("SHX_HOME", home)
		path := filepath.Join(home, "bad.toml")
		if err := os.WriteFile(path, []byte("[cache]\ntype = \"redis\"\n"), 0644); err != nil {
			t.Fatal(err)
		}

		if _, _, err := LoadConfig(path); err == nil {
			t.Error("LoadConfig() expected validation error")
		}
	})
}
