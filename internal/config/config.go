// Package config loads switchyard's project configuration.
//
// Settings live in .switchyard/config.yaml under the project root. A .env
// file in the project root is loaded into the process environment first,
// then SWITCHYARD_* variables override the file. CLI flags apply on top of
// the returned Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/agusx1211/switchyard/internal/agentmeta"
	"github.com/agusx1211/switchyard/internal/docstore"
)

const (
	// DirName is the per-project state directory.
	DirName = ".switchyard"
	// FileName is the config file inside DirName.
	FileName = "config.yaml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SWITCHYARD_"
)

// Config is the full project configuration.
type Config struct {
	Store    StoreConfig                   `yaml:"store"`
	Relay    RelayConfig                   `yaml:"relay"`
	Dispatch DispatchConfig                `yaml:"dispatch"`
	Spawn    SpawnConfig                   `yaml:"spawn"`
	Usage    UsageConfig                   `yaml:"usage"`
	Agents   map[string]agentmeta.Identity `yaml:"agents,omitempty"`

	// MetricsAddr exposes Prometheus metrics from the daemon when set.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	// Watch nudges pollers on file changes (file backend only).
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend   string `yaml:"backend"`             // file, sqlite or redis
	Dir       string `yaml:"dir"`                 // relative to the project root
	Path      string `yaml:"path,omitempty"`      // sqlite database file
	RedisURL  string `yaml:"redis_url,omitempty"` // redis://host:port/db
	Namespace string `yaml:"namespace,omitempty"` // redis key prefix
}

type RelayConfig struct {
	Interval time.Duration `yaml:"interval"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

type DispatchConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	// Command delivers a trigger; placeholders {session} {agent} {id}
	// {message}. Empty means deliver to the outbox documents.
	Command []string      `yaml:"command,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

type SpawnConfig struct {
	Interval time.Duration `yaml:"interval"`
	TTL      time.Duration `yaml:"ttl"`
	// LaunchCommand starts a session and prints its key; placeholders
	// {id} {agent} {task}. Empty disables the spawn processor.
	LaunchCommand []string      `yaml:"launch_command,omitempty"`
	Timeout       time.Duration `yaml:"timeout"`
}

type UsageConfig struct {
	Interval        time.Duration    `yaml:"interval"`
	ToolCosts       map[string]int64 `yaml:"tool_costs,omitempty"`
	DefaultToolCost int64            `yaml:"default_tool_cost"`
	DailyLimit      int64            `yaml:"daily_limit"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:   docstore.BackendFile,
			Dir:       filepath.Join(DirName, "data"),
			Namespace: "switchyard",
		},
		Relay: RelayConfig{
			Interval: 2 * time.Second,
			DedupTTL: 24 * time.Hour,
		},
		Dispatch: DispatchConfig{
			Interval:    2 * time.Second,
			MaxAttempts: 3,
			Timeout:     30 * time.Second,
		},
		Spawn: SpawnConfig{
			Interval: 5 * time.Second,
			TTL:      time.Hour,
			Timeout:  2 * time.Minute,
		},
		Usage: UsageConfig{
			Interval:        10 * time.Second,
			DefaultToolCost: 100,
			DailyLimit:      2_000_000,
		},
		Agents:        map[string]agentmeta.Identity{},
		Watch:         true,
		WatchDebounce: 500 * time.Millisecond,
	}
}

// Path returns the config file path for a project root.
func Path(root string) string {
	return filepath.Join(root, DirName, FileName)
}

// Load reads the project config under root, returning defaults when the file
// is absent.
func Load(root string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(root, ".env")); err != nil {
		return nil, err
	}

	cfg := Default()
	data, err := os.ReadFile(Path(root))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", Path(root), err)
		}
	}
	if cfg.Agents == nil {
		cfg.Agents = map[string]agentmeta.Identity{}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Save writes cfg to the project config file.
func Save(root string, cfg *Config) error {
	if cfg == nil {
		cfg = Default()
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(Path(root)), 0755); err != nil {
		return err
	}
	return os.WriteFile(Path(root), data, 0644)
}

// WriteDefault creates the config file with defaults unless one exists. It
// reports whether a file was written.
func WriteDefault(root string) (bool, error) {
	if _, err := os.Stat(Path(root)); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return true, Save(root, Default())
}

// applyEnv overlays SWITCHYARD_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}
	num := func(name string, dst *int64) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("STORE_BACKEND", &c.Store.Backend)
	str("STORE_DIR", &c.Store.Dir)
	str("STORE_PATH", &c.Store.Path)
	str("REDIS_URL", &c.Store.RedisURL)
	str("REDIS_NAMESPACE", &c.Store.Namespace)
	str("METRICS_ADDR", &c.MetricsAddr)

	for name, dst := range map[string]*time.Duration{
		"RELAY_INTERVAL":    &c.Relay.Interval,
		"DISPATCH_INTERVAL": &c.Dispatch.Interval,
		"SPAWN_INTERVAL":    &c.Spawn.Interval,
		"SPAWN_TTL":         &c.Spawn.TTL,
		"USAGE_INTERVAL":    &c.Usage.Interval,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}
	if err := num("DAILY_LIMIT", &c.Usage.DailyLimit); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "WATCH"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sWATCH: %w", EnvPrefix, err)
		}
		c.Watch = b
	}
	return nil
}

// Validate rejects settings the daemons cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store.Backend)) {
	case "", docstore.BackendFile, docstore.BackendSQLite:
	case docstore.BackendRedis:
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	for name, d := range map[string]time.Duration{
		"relay.interval":    c.Relay.Interval,
		"dispatch.interval": c.Dispatch.Interval,
		"spawn.interval":    c.Spawn.Interval,
		"spawn.ttl":         c.Spawn.TTL,
		"usage.interval":    c.Usage.Interval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Dispatch.MaxAttempts < 1 {
		return errors.New("dispatch.max_attempts must be at least 1")
	}
	if c.Usage.DefaultToolCost < 0 {
		return errors.New("usage.default_tool_cost must not be negative")
	}
	for tool, cost := range c.Usage.ToolCosts {
		if cost < 0 {
			return fmt.Errorf("usage.tool_costs.%s must not be negative", tool)
		}
	}
	return nil
}

// StoreOptions resolves the store settings against the project root.
func (c *Config) StoreOptions(root string) docstore.Options {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	return docstore.Options{
		Backend:   c.Store.Backend,
		Dir:       abs(c.Store.Dir),
		Path:      abs(c.Store.Path),
		RedisURL:  c.Store.RedisURL,
		Namespace: c.Store.Namespace,
	}
}

// Identities returns the agent registry with the configured overrides.
func (c *Config) Identities() *agentmeta.Registry {
	return agentmeta.NewRegistry(c.Agents)
}
