// Package config loads and persists the engine's viper-backed configuration
// (spec §6): transport/transfer/security key groups plus the ambient
// logging level, with migration from a legacy config file location.
//
// Grounded on the teacher's internal/config (viper.SetConfigName,
// AddConfigPath in priority order, SetEnvPrefix+AutomaticEnv,
// viper.Unmarshal/WriteConfigAs), generalized from the teacher's flat
// key set to spec §6's nested transport.*/transfer.*/security.* groups.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// TransportConfig groups the wire/connection-level keys (spec §6).
type TransportConfig struct {
	Host              string            `mapstructure:"host"`
	Port              uint16            `mapstructure:"port"`
	TimeoutMs         uint32            `mapstructure:"timeout_ms"`
	PreferredEncoding string            `mapstructure:"preferred_encoding"`
	Compression       CompressionConfig `mapstructure:"compression"`
	Keepalive         KeepaliveConfig   `mapstructure:"keepalive"`
	Reconnect         ReconnectConfig   `mapstructure:"reconnect"`
}

type CompressionConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Algorithm string `mapstructure:"algorithm"` // none|gzip|deflate|brotli|auto
	MinBytes  uint32 `mapstructure:"min_bytes"`
}

type KeepaliveConfig struct {
	PingIntervalMs uint32 `mapstructure:"ping_interval_ms"`
	PingTimeoutMs  uint32 `mapstructure:"ping_timeout_ms"`
	MaxFailures    int    `mapstructure:"max_failures"`
}

type ReconnectConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	InitialDelayMs uint32  `mapstructure:"initial_delay_ms"`
	MaxDelayMs     uint32  `mapstructure:"max_delay_ms"`
	BackoffFactor  float64 `mapstructure:"backoff_factor"`
}

// TransferConfig groups chunking/concurrency keys (spec §6).
type TransferConfig struct {
	Chunk       ChunkConfig `mapstructure:"chunk"`
	Concurrency struct {
		Max int `mapstructure:"max"` // 1..8
	} `mapstructure:"concurrency"`
}

type ChunkConfig struct {
	MinBytes     int64 `mapstructure:"min_bytes"`
	MaxBytes     int64 `mapstructure:"max_bytes"`
	DefaultBytes int64 `mapstructure:"default_bytes"`
	AutoAdjust   bool  `mapstructure:"auto_adjust"`
}

// SecurityConfig groups the allowlist/timeout keys (spec §6).
type SecurityConfig struct {
	HostAllowlist        []string `mapstructure:"host_allowlist"`
	AllowedSchemes       []string `mapstructure:"allowed_schemes"`
	SensitiveHeaderNames []string `mapstructure:"sensitive_header_names"`
	RequestTimeoutMs     uint32   `mapstructure:"request_timeout_ms"`
}

// Config is the full recognised configuration (spec §6), plus the ambient
// logging_level key.
type Config struct {
	Transport    TransportConfig `mapstructure:"transport"`
	Transfer     TransferConfig  `mapstructure:"transfer"`
	Security     SecurityConfig  `mapstructure:"security"`
	LoggingLevel string          `mapstructure:"logging_level"`
}

const (
	configDirName  = "easy-file-management"
	configFileName = "config"
	configFileExt  = "yaml"
	envPrefix      = "WARP_ENGINE"
)

// DefaultConfig returns the engine's built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Host:              "",
			Port:              0,
			TimeoutMs:         30000,
			PreferredEncoding: "protobuf",
			Compression: CompressionConfig{
				Enabled:   true,
				Algorithm: "auto",
				MinBytes:  1024,
			},
			Keepalive: KeepaliveConfig{
				PingIntervalMs: 45000,
				PingTimeoutMs:  10000,
				MaxFailures:    3,
			},
			Reconnect: ReconnectConfig{
				Enabled:        true,
				MaxAttempts:    10,
				InitialDelayMs: 1000,
				MaxDelayMs:     60000,
				BackoffFactor:  2.0,
			},
		},
		Transfer: TransferConfig{
			Chunk: ChunkConfig{
				MinBytes:     16 * 1024,
				MaxBytes:     4*1024*1024 - 13,
				DefaultBytes: 256 * 1024,
				AutoAdjust:   true,
			},
			Concurrency: struct {
				Max int `mapstructure:"max"`
			}{Max: 4},
		},
		Security: SecurityConfig{
			HostAllowlist:        nil,
			AllowedSchemes:       []string{"tcp", "ftp"},
			SensitiveHeaderNames: []string{"authorization", "cookie"},
			RequestTimeoutMs:     30000,
		},
		LoggingLevel: "info",
	}
}

func configDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, "."+configDirName), nil
}

func legacyConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".easy-file-management-legacy", "config.json"), nil
}

// LoadConfig loads configuration from file, migrating a legacy config file
// if present and the new one is not (spec §6).
func LoadConfig() (*Config, error) {
	if err := MigrateLegacy(); err != nil {
		return nil, fmt.Errorf("migrating legacy config: %w", err)
	}

	cfg := DefaultConfig()

	viper.SetConfigName(configFileName)
	viper.SetConfigType(configFileExt)

	if dir, err := configDir(); err == nil {
		viper.AddConfigPath(dir)
	}
	viper.AddConfigPath(".")

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to the standard config path, creating the
// directory if needed.
func SaveConfig(cfg *Config) error {
	dir, err := configDir()
	if err != nil {
		return fmt.Errorf("cannot get home directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	// Flatten through the mapstructure tags so the written keys are the same
	// ones LoadConfig's Unmarshal reads back (e.g. host_allowlist).
	var settings map[string]any
	if err := mapstructure.Decode(*cfg, &settings); err != nil {
		return fmt.Errorf("cannot encode config: %w", err)
	}
	for key, value := range settings {
		viper.Set(key, value)
	}

	path := filepath.Join(dir, configFileName+"."+configFileExt)
	if err := viper.WriteConfigAs(path); err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the path viper last read from, or the default
// location if nothing has been loaded yet.
func GetConfigPath() string {
	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}
	dir, err := configDir()
	if err != nil {
		return filepath.Join("~", "."+configDirName, configFileName+"."+configFileExt)
	}
	return filepath.Join(dir, configFileName+"."+configFileExt)
}

// legacyConfig mirrors the original_source extension host's
// .easy-file-management-legacy/config.json shape: a flat subset of the
// keys this engine now nests under transport/transfer/security.
type legacyConfig struct {
	Host           string `json:"host"`
	Port           uint16 `json:"port"`
	PreferredProto string `json:"preferredProtocol"`
}

// MigrateLegacy reads the legacy config file if the new one is absent,
// writes the new file in its place, and deletes the legacy one (spec §6).
// It is a no-op if the new config already exists or no legacy file exists.
func MigrateLegacy() error {
	dir, err := configDir()
	if err != nil {
		return nil
	}
	newPath := filepath.Join(dir, configFileName+"."+configFileExt)
	if _, err := os.Stat(newPath); err == nil {
		return nil // new config already present
	}

	legacyPath, err := legacyConfigPath()
	if err != nil {
		return nil
	}
	raw, err := os.ReadFile(legacyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var legacy legacyConfig
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return fmt.Errorf("parsing legacy config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Transport.Host = legacy.Host
	cfg.Transport.Port = legacy.Port
	if legacy.PreferredProto != "" {
		cfg.Transport.PreferredEncoding = legacy.PreferredProto
	}

	if err := SaveConfig(cfg); err != nil {
		return fmt.Errorf("writing migrated config: %w", err)
	}
	return os.Remove(legacyPath)
}
