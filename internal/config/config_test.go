package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
}

func withHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("USERPROFILE", dir)
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Transport.TimeoutMs != 30000 {
		t.Errorf("expected default timeout_ms 30000, got %d", cfg.Transport.TimeoutMs)
	}
	if cfg.Transport.PreferredEncoding != "protobuf" {
		t.Errorf("expected default preferred_encoding protobuf, got %q", cfg.Transport.PreferredEncoding)
	}
	if !cfg.Transport.Compression.Enabled {
		t.Error("expected compression enabled by default")
	}
	if cfg.Transport.Keepalive.MaxFailures != 3 {
		t.Errorf("expected default max_failures 3, got %d", cfg.Transport.Keepalive.MaxFailures)
	}
	if !cfg.Transport.Reconnect.Enabled {
		t.Error("expected reconnect enabled by default")
	}
	if cfg.Transfer.Chunk.DefaultBytes != 256*1024 {
		t.Errorf("expected default chunk default_bytes 256KiB, got %d", cfg.Transfer.Chunk.DefaultBytes)
	}
	if cfg.Transfer.Concurrency.Max != 4 {
		t.Errorf("expected default concurrency.max 4, got %d", cfg.Transfer.Concurrency.Max)
	}
	if len(cfg.Security.AllowedSchemes) == 0 {
		t.Error("expected non-empty default allowed_schemes")
	}
	if cfg.LoggingLevel != "info" {
		t.Errorf("expected default logging level info, got %q", cfg.LoggingLevel)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	withHome(t)
	resetViper()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport.TimeoutMs != DefaultConfig().Transport.TimeoutMs {
		t.Errorf("expected defaults when no file present, got %+v", cfg)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	withHome(t)
	resetViper()

	cfg := DefaultConfig()
	cfg.Transport.Host = "relay.example.com"
	cfg.Transport.Port = 9443
	cfg.Transfer.Concurrency.Max = 6
	cfg.Security.HostAllowlist = []string{"relay.example.com"}

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	resetViper()
	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error loading: %v", err)
	}
	if loaded.Transport.Host != "relay.example.com" {
		t.Errorf("expected host to round-trip, got %q", loaded.Transport.Host)
	}
	if loaded.Transport.Port != 9443 {
		t.Errorf("expected port to round-trip, got %d", loaded.Transport.Port)
	}
	if loaded.Transfer.Concurrency.Max != 6 {
		t.Errorf("expected concurrency.max to round-trip, got %d", loaded.Transfer.Concurrency.Max)
	}
	if len(loaded.Security.HostAllowlist) != 1 || loaded.Security.HostAllowlist[0] != "relay.example.com" {
		t.Errorf("expected host_allowlist to round-trip, got %+v", loaded.Security.HostAllowlist)
	}
}

func TestGetConfigPath(t *testing.T) {
	home := withHome(t)
	resetViper()

	path := GetConfigPath()
	want := filepath.Join(home, "."+configDirName, configFileName+"."+configFileExt)
	if path != want {
		t.Errorf("expected default config path %q, got %q", want, path)
	}
}

func TestMigrateLegacyWritesNewConfigAndDeletesOld(t *testing.T) {
	home := withHome(t)
	resetViper()

	legacyDir := filepath.Join(home, ".easy-file-management-legacy")
	if err := os.MkdirAll(legacyDir, 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	legacyPath := filepath.Join(legacyDir, "config.json")
	raw, _ := json.Marshal(map[string]any{
		"host":              "old-relay.example.com",
		"port":              5001,
		"preferredProtocol": "json",
	})
	if err := os.WriteFile(legacyPath, raw, 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := MigrateLegacy(); err != nil {
		t.Fatalf("unexpected error migrating: %v", err)
	}

	if _, err := os.Stat(legacyPath); !os.IsNotExist(err) {
		t.Error("expected legacy config file to be removed after migration")
	}

	newPath := filepath.Join(home, "."+configDirName, configFileName+"."+configFileExt)
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("expected new config file to exist after migration: %v", err)
	}

	resetViper()
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error loading migrated config: %v", err)
	}
	if cfg.Transport.Host != "old-relay.example.com" {
		t.Errorf("expected migrated host, got %q", cfg.Transport.Host)
	}
	if cfg.Transport.Port != 5001 {
		t.Errorf("expected migrated port, got %d", cfg.Transport.Port)
	}
	if cfg.Transport.PreferredEncoding != "json" {
		t.Errorf("expected migrated preferred_encoding, got %q", cfg.Transport.PreferredEncoding)
	}
}

func TestMigrateLegacyNoopWhenNewConfigAlreadyExists(t *testing.T) {
	home := withHome(t)
	resetViper()

	dir := filepath.Join(home, "."+configDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	newPath := filepath.Join(dir, configFileName+"."+configFileExt)
	if err := os.WriteFile(newPath, []byte("transport:\n  host: already-here\n"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	legacyDir := filepath.Join(home, ".easy-file-management-legacy")
	if err := os.MkdirAll(legacyDir, 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	legacyPath := filepath.Join(legacyDir, "config.json")
	if err := os.WriteFile(legacyPath, []byte(`{"host":"ignored"}`), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := MigrateLegacy(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(legacyPath); err != nil {
		t.Error("expected legacy file to be left untouched when new config already exists")
	}
}

func TestMigrateLegacyNoopWhenNoLegacyFile(t *testing.T) {
	withHome(t)
	resetViper()

	if err := MigrateLegacy(); err != nil {
		t.Fatalf("expected no error when no legacy file exists, got %v", err)
	}
}
