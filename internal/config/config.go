// Package config loads and validates the gateline YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gateline/gateline/internal/logger"
)

var cfgLog = logger.New("config")

// Config is the full gateline configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Rules  RulesConfig  `yaml:"rules"`
	Audit  AuditConfig  `yaml:"audit"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	NoColor  bool   `yaml:"no_color"`
	// AdminToken guards privileged endpoints (reset). Supports $ENV_VAR
	// indirection so the token never lives in the file.
	AdminToken string `yaml:"admin_token"`
}

// RulesConfig holds rule engine settings.
type RulesConfig struct {
	// UserDir is an optional directory of extra rule files merged over the
	// builtin set.
	UserDir string `yaml:"user_dir"`
}

// AuditConfig holds audit storage settings.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
	// EncryptionKey enables SQLCipher encryption when non-empty. Supports
	// $ENV_VAR indirection.
	EncryptionKey string `yaml:"encryption_key"`
}

// DefaultConfigPath returns ~/.gateline/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".gateline", "config.yaml")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./gateline.db"
	}
	return filepath.Join(home, ".gateline", "audit.db")
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8750,
			LogLevel: "info",
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  defaultDBPath(),
		},
	}
}

// Load reads a config file, applies defaults, resolves $ENV_VAR secrets,
// and validates. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfgLog.Debug("No config file at %s, using defaults", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSecrets expands $ENV_VAR references in secret-bearing fields.
func (c *Config) resolveSecrets() error {
	var err error
	if c.Server.AdminToken, err = expandEnv(c.Server.AdminToken); err != nil {
		return fmt.Errorf("server.admin_token: %w", err)
	}
	if c.Audit.EncryptionKey, err = expandEnv(c.Audit.EncryptionKey); err != nil {
		return fmt.Errorf("audit.encryption_key: %w", err)
	}
	return nil
}

func expandEnv(value string) (string, error) {
	if !strings.HasPrefix(value, "$") {
		return value, nil
	}
	name := strings.TrimPrefix(value, "$")
	resolved, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return resolved, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if _, err := logger.ParseLevel(c.Server.LogLevel); err != nil {
		return err
	}
	if c.Audit.Enabled && c.Audit.DBPath == "" {
		return fmt.Errorf("audit enabled but db_path is empty")
	}
	return nil
}
