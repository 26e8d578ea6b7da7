// Package config loads the syncd daemon configuration from YAML, .env files
// and SYNC_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/huykn/reactive-sync/engine"
	"github.com/huykn/reactive-sync/storage"
	"github.com/huykn/reactive-sync/types"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid syncd configuration")

// ScopeQuery binds a scope to the SELECT that loads it.
type ScopeQuery struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
}

// Config is the daemon configuration.
type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
		PodID    string `yaml:"pod_id"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	Redis struct {
		Addr        string        `yaml:"addr"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		Prefix      string        `yaml:"prefix"`
		Channel     string        `yaml:"channel"`
		SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	} `yaml:"redis"`

	Sync struct {
		QuietPeriod            time.Duration `yaml:"quiet_period"`
		RefetchTimeout         time.Duration `yaml:"refetch_timeout"`
		ReconcileInterval      time.Duration `yaml:"reconcile_interval"`
		ReconcileGuard         time.Duration `yaml:"reconcile_guard"`
		MaxConcurrentRefetches int           `yaml:"max_concurrent_refetches"`
		TelemetryCapacity      int           `yaml:"telemetry_capacity"`
	} `yaml:"sync"`

	Notifications struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"notifications"`

	LocalCache struct {
		// lfu | lru
		Kind    string `yaml:"kind"`
		MaxSize int    `yaml:"max_size"`
	} `yaml:"local_cache"`

	Scopes []ScopeQuery `yaml:"scopes"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path (optional), fills defaults and applies SYNC_* overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDotEnv loads the given .env files into the environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := engine.DefaultOptions()

	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.PodID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.App.PodID = host
		} else {
			c.App.PodID = def.PodID
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "reactive-sync:"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "reactive-sync:mutations"
	}
	if c.Sync.QuietPeriod == 0 {
		c.Sync.QuietPeriod = def.QuietPeriod
	}
	if c.Sync.RefetchTimeout == 0 {
		c.Sync.RefetchTimeout = def.RefetchTimeout
	}
	if c.Sync.ReconcileInterval == 0 {
		c.Sync.ReconcileInterval = def.ReconcileInterval
	}
	if c.Sync.ReconcileGuard == 0 {
		c.Sync.ReconcileGuard = def.ReconcileGuard
	}
	if c.Sync.TelemetryCapacity == 0 {
		c.Sync.TelemetryCapacity = def.TelemetryCapacity
	}
	if c.Notifications.TTL == 0 {
		c.Notifications.TTL = 5 * time.Second
	}
	if c.LocalCache.Kind == "" {
		c.LocalCache.Kind = "lfu"
	}
	if c.LocalCache.MaxSize == 0 {
		c.LocalCache.MaxSize = 1024
	}
}

// applyEnvOverrides replaces file values with SYNC_* variables.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("SYNC_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SYNC_LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := getEnvStr("SYNC_POD_ID"); ok {
		c.App.PodID = v
	}
	if v, ok := getEnvBool("SYNC_DEBUG"); ok {
		c.App.Debug = v
	}
	if v, ok := getEnvStr("SYNC_SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("SYNC_POSTGRES_DSN"); ok {
		c.Postgres.DSN = v
	}
	if v, ok := getEnvStr("SYNC_REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvStr("SYNC_REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvInt("SYNC_REDIS_DB"); ok {
		c.Redis.DB = v
	}
	if v, ok := getEnvStr("SYNC_REDIS_CHANNEL"); ok {
		c.Redis.Channel = v
	}
	if v, ok := getEnvDur("SYNC_SNAPSHOT_TTL"); ok {
		c.Redis.SnapshotTTL = v
	}
	if v, ok := getEnvDur("SYNC_QUIET_PERIOD"); ok {
		c.Sync.QuietPeriod = v
	}
	if v, ok := getEnvDur("SYNC_REFETCH_TIMEOUT"); ok {
		c.Sync.RefetchTimeout = v
	}
	if v, ok := getEnvDur("SYNC_RECONCILE_INTERVAL"); ok {
		c.Sync.ReconcileInterval = v
	}
	if v, ok := getEnvDur("SYNC_RECONCILE_GUARD"); ok {
		c.Sync.ReconcileGuard = v
	}
	if v, ok := getEnvInt("SYNC_MAX_CONCURRENT_REFETCHES"); ok {
		c.Sync.MaxConcurrentRefetches = v
	}
	if v, ok := getEnvDur("SYNC_NOTIFICATION_TTL"); ok {
		c.Notifications.TTL = v
	}
	if v, ok := getEnvStr("SYNC_LOCAL_CACHE"); ok {
		c.LocalCache.Kind = strings.ToLower(v)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalidConfig)
	}
	if c.LocalCache.Kind != "lfu" && c.LocalCache.Kind != "lru" {
		return fmt.Errorf("%w: local_cache.kind %q", ErrInvalidConfig, c.LocalCache.Kind)
	}
	seen := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		if s.Name == "" || strings.TrimSpace(s.Query) == "" {
			return fmt.Errorf("%w: scope needs a name and a query", ErrInvalidConfig)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: duplicate scope %q", ErrInvalidConfig, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	opts := c.EngineOptions()
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// EngineOptions maps the sync section onto engine options.
func (c *Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.PodID = c.App.PodID
	opts.DebugMode = c.App.Debug
	opts.QuietPeriod = c.Sync.QuietPeriod
	opts.RefetchTimeout = c.Sync.RefetchTimeout
	opts.ReconcileInterval = c.Sync.ReconcileInterval
	opts.ReconcileGuard = c.Sync.ReconcileGuard
	opts.MaxConcurrentRefetches = c.Sync.MaxConcurrentRefetches
	opts.TelemetryCapacity = c.Sync.TelemetryCapacity
	for _, s := range c.Scopes {
		opts.ExtraScopes = append(opts.ExtraScopes, types.ScopeKey(s.Name))
	}
	return opts
}

// RedisOptions maps the redis section onto snapshot store options.
func (c *Config) RedisOptions() storage.RedisOptions {
	return storage.RedisOptions{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Prefix:   c.Redis.Prefix,
		TTL:      c.Redis.SnapshotTTL,
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
