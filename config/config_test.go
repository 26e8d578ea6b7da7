package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
app:
  env: prod
  pod_id: pod-a
server:
  addr: ":9090"
redis:
  addr: localhost:6379
  snapshot_ttl: 1m
sync:
  quiet_period: 250ms
  refetch_timeout: 3s
scopes:
  - name: users
    query: SELECT * FROM usuarios
  - name: schools
    query: SELECT * FROM escolas
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	c, err := Load(writeFile(t, "syncd.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.App.Env != "prod" || c.App.PodID != "pod-a" || c.Server.Addr != ":9090" {
		t.Fatalf("Unexpected app/server section %+v %+v", c.App, c.Server)
	}
	if c.Sync.QuietPeriod != 250*time.Millisecond || c.Sync.RefetchTimeout != 3*time.Second {
		t.Fatalf("Unexpected sync section %+v", c.Sync)
	}
	if c.Redis.SnapshotTTL != time.Minute || c.Redis.Channel != "reactive-sync:mutations" {
		t.Fatalf("Unexpected redis section %+v", c.Redis)
	}
	if c.Sync.ReconcileInterval != 30*time.Second || c.Sync.ReconcileGuard != 10*time.Second {
		t.Fatalf("Reconcile defaults not applied: %+v", c.Sync)
	}
	if len(c.Scopes) != 2 {
		t.Fatalf("Expected 2 scopes, got %d", len(c.Scopes))
	}

	opts := c.EngineOptions()
	if opts.PodID != "pod-a" || len(opts.ExtraScopes) != 2 || opts.RefetchTimeout != 3*time.Second {
		t.Fatalf("Unexpected engine options %+v", opts)
	}
	if r := c.RedisOptions(); r.Addr != "localhost:6379" || r.TTL != time.Minute {
		t.Fatalf("Unexpected redis options %+v", r)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SYNC_SERVER_ADDR", ":7070")
	t.Setenv("SYNC_QUIET_PERIOD", "1s")
	t.Setenv("SYNC_REDIS_DB", "3")
	t.Setenv("SYNC_DEBUG", "true")
	t.Setenv("SYNC_LOCAL_CACHE", "LRU")

	c, err := Load(writeFile(t, "syncd.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Server.Addr != ":7070" || c.Sync.QuietPeriod != time.Second || c.Redis.DB != 3 {
		t.Fatalf("Overrides not applied: %+v %+v %+v", c.Server, c.Sync, c.Redis)
	}
	if !c.App.Debug || c.LocalCache.Kind != "lru" {
		t.Fatalf("Overrides not applied: %+v %+v", c.App, c.LocalCache)
	}
}

func TestLoadDotEnv(t *testing.T) {
	os.Unsetenv("SYNC_POD_ID")
	t.Cleanup(func() { os.Unsetenv("SYNC_POD_ID") })

	env := writeFile(t, ".env", "SYNC_POD_ID=from-dotenv\n")
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), env); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.App.PodID != "from-dotenv" {
		t.Fatalf("Expected pod id from .env, got %q", c.App.PodID)
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	c.Scopes = []ScopeQuery{{Name: "users", Query: "SELECT 1"}, {Name: "users", Query: "SELECT 2"}}
	if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected duplicate scope error, got %v", err)
	}

	c = Default()
	c.LocalCache.Kind = "arc"
	if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected local cache kind error, got %v", err)
	}

	c = Default()
	c.Sync.RefetchTimeout = -time.Second
	if err := c.Validate(); err == nil {
		t.Fatal("Expected an error for a negative refetch timeout")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	if _, err := Load(writeFile(t, "bad.yaml", "sync: [")); err == nil {
		t.Fatal("Expected a parse error")
	}
}
