package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8750 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if !cfg.Audit.Enabled {
		t.Error("audit disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
  log_level: debug
rules:
  user_dir: /tmp/rules.d
audit:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 || cfg.Server.LogLevel != "debug" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Rules.UserDir != "/tmp/rules.d" {
		t.Errorf("user_dir = %q", cfg.Rules.UserDir)
	}
	if cfg.Audit.Enabled {
		t.Error("audit should be disabled")
	}
}

func TestLoadResolvesSecrets(t *testing.T) {
	t.Setenv("GATELINE_TEST_TOKEN", "s3cret")
	path := writeConfig(t, `
server:
  admin_token: $GATELINE_TEST_TOKEN
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.AdminToken != "s3cret" {
		t.Errorf("admin token = %q", cfg.Server.AdminToken)
	}
}

func TestLoadMissingSecretFails(t *testing.T) {
	path := writeConfig(t, `
server:
  admin_token: $GATELINE_NOT_SET_ANYWHERE
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for unset secret variable")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "loud" }},
		{"audit without path", func(c *Config) { c.Audit.DBPath = "" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
