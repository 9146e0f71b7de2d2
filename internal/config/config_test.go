package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.BodyLimit != "2M" || cfg.Storage.Path != "data/kiro-relay.db" {
		t.Fatalf("unexpected server/storage defaults %+v %+v", cfg.Server, cfg.Storage)
	}
	if cfg.Upstream.Timeout != 60*time.Second || cfg.Upstream.RefreshTimeout != 10*time.Second {
		t.Fatalf("unexpected timeouts %+v", cfg.Upstream)
	}
	if !strings.HasSuffix(cfg.Upstream.ChatURL, "/generateAssistantResponse") || cfg.Upstream.AgentMode != "spec" {
		t.Fatalf("unexpected upstream defaults %+v", cfg.Upstream)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
	catalog, err := cfg.Models.Catalog()
	if err != nil || len(catalog.List()) != 6 {
		t.Fatalf("expected default catalog, got %v", err)
	}
}

func TestLoadFullConfig(t *testing.T) {
	body := `
server:
  port: 8081
  disable_auth: true
  cors_origins: ["http://localhost:3000"]
  rate_limit:
    requests_per_second: 5
storage:
  path: /tmp/relay.db
upstream:
  timeout: 30s
models:
  fallback: house
  mappings:
    - id: house
      internal_id: HOUSE_V1
  aliases:
    latest: house
log:
  level: debug
  format: json
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Server.DisableAuth || cfg.Server.RateLimit.Burst != 6 || cfg.Server.RateLimit.ExpiresIn != 3*time.Minute {
		t.Fatalf("unexpected server %+v", cfg.Server)
	}
	if cfg.Upstream.Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Upstream.Timeout)
	}
	catalog, err := cfg.Models.Catalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if catalog.Resolve("latest") != "HOUSE_V1" || catalog.Resolve("unknown") != "HOUSE_V1" {
		t.Fatal("unexpected model resolution")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad port":       "server:\n  port: 70000\n",
		"bad log level":  "log:\n  level: verbose\n",
		"bad log format": "log:\n  format: xml\n",
		"bad url":        "upstream:\n  chat_url: not-a-url\n",
		"bad fallback":   "models:\n  fallback: missing\n",
		"negative rate":  "server:\n  rate_limit:\n    requests_per_second: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	env := map[string]string{EnvPort: "7000", EnvDBPath: "/data/x.db", EnvLogLevel: "DEBUG"}
	if err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Server.Port != 7000 || cfg.Storage.Path != "/data/x.db" || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}

	env[EnvPort] = "nope"
	if err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err == nil {
		t.Fatal("expected invalid port override to fail")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
