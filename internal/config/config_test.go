package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Port != 3010 {
		t.Errorf("port = %d, want 3010", cfg.Port)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("request_timeout = %v, want 10s", cfg.RequestTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := `
port: 4000
redis_url: redis://localhost:6379
request_timeout: 5s
timeout_overrides:
  execute-js: 30s
rate_limit:
  per_second: 5
  burst: 10
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 4000 {
		t.Errorf("port = %d, want 4000", cfg.Port)
	}
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Errorf("redis_url = %q", cfg.RedisURL)
	}
	if cfg.RateLimit.PerSecond != 5 {
		t.Errorf("rate per_second = %v, want 5", cfg.RateLimit.PerSecond)
	}
	// defaults survive partial files
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("ping_interval = %v, want default 30s", cfg.PingInterval)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "5000")
	t.Setenv("INSTANCE_ID", "replica-a")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 5000 {
		t.Errorf("port = %d, want 5000", cfg.Port)
	}
	if cfg.InstanceID != "replica-a" {
		t.Errorf("instance_id = %q, want replica-a", cfg.InstanceID)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for port 0")
	}

	cfg = Default()
	cfg.RequestTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero request_timeout")
	}
}

func TestTimeoutFor(t *testing.T) {
	cfg := Default()
	cfg.TimeoutOverrides = map[string]time.Duration{"execute-js": 30 * time.Second}

	if got := cfg.TimeoutFor("execute-js"); got != 30*time.Second {
		t.Errorf("override timeout = %v, want 30s", got)
	}
	if got := cfg.TimeoutFor("roll"); got != cfg.RequestTimeout {
		t.Errorf("fallback timeout = %v, want %v", got, cfg.RequestTimeout)
	}
}
