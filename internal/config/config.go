// Package config loads the console's settings from a TOML, YAML or JSON
// file with AGENTDECK_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/agentdeck/internal/logger"
	"github.com/loykin/agentdeck/internal/workspace"
)

// EnvPrefix prefixes every environment override, e.g.
// AGENTDECK_SERVER_LISTEN or AGENTDECK_SUPERVISOR_BACKEND.
const EnvPrefix = "AGENTDECK"

const (
	BackendNative = "native"
	BackendPM2    = "pm2"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Logs       LogsConfig       `mapstructure:"logs"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Store      StoreConfig      `mapstructure:"store"`
	History    HistoryConfig    `mapstructure:"history"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        logger.Config    `mapstructure:"log"`
	Stats      StatsConfig      `mapstructure:"stats"`

	// Path is the file the config was read from, empty for defaults only.
	Path string `mapstructure:"-"`
}

type ServerConfig struct {
	Listen   string    `mapstructure:"listen"`
	BasePath string    `mapstructure:"base_path"`
	TLS      TLSConfig `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// Dir holds tls.crt and tls.key when cert_file/key_file are unset.
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	MinVersion   string `mapstructure:"min_version"`
}

type WorkspaceConfig struct {
	Root   string   `mapstructure:"root"`
	Ignore []string `mapstructure:"ignore"`
}

type LogsConfig struct {
	Dir             string `mapstructure:"dir"`
	LegacyFile      string `mapstructure:"legacy_file"`
	TailLines       int    `mapstructure:"tail_lines"`
	LegacyTailLines int    `mapstructure:"legacy_tail_lines"`
	MaxSizeMB       int    `mapstructure:"max_size_mb"`
	MaxBackups      int    `mapstructure:"max_backups"`
	MaxAgeDays      int    `mapstructure:"max_age_days"`
	Compress        bool   `mapstructure:"compress"`
}

// Rotation returns the lumberjack settings for agent output files.
func (l LogsConfig) Rotation() logger.Rotation {
	return logger.Rotation{MaxSizeMB: l.MaxSizeMB, MaxBackups: l.MaxBackups, MaxAgeDays: l.MaxAgeDays, Compress: l.Compress}
}

type SupervisorConfig struct {
	Backend            string        `mapstructure:"backend"`
	PM2Binary          string        `mapstructure:"pm2_binary"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	StopGrace          time.Duration `mapstructure:"stop_grace"`
	CallbackURL        string        `mapstructure:"callback_url"`
	DefaultCommand     string        `mapstructure:"default_command"`
	Sweep              bool          `mapstructure:"sweep"`
	SweepDefaultScript string        `mapstructure:"sweep_default_script"`
	LockDir            string        `mapstructure:"lock_dir"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	Env                []string      `mapstructure:"env"`
	EnvFiles           []string      `mapstructure:"env_files"`
	UseOSEnv           bool          `mapstructure:"use_os_env"`
	KillOnExit         bool          `mapstructure:"kill_on_exit"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Listen serves /metrics on its own address; empty mounts it on the API server.
	Listen string `mapstructure:"listen"`
}

type StatsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIBase string        `mapstructure:"api_base"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":3000")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "")

	v.SetDefault("workspace.root", ".")
	v.SetDefault("workspace.ignore", workspace.DefaultIgnore)

	v.SetDefault("logs.dir", "logs")
	v.SetDefault("logs.legacy_file", "bot.log")
	v.SetDefault("logs.tail_lines", 100)
	v.SetDefault("logs.legacy_tail_lines", 50)
	v.SetDefault("logs.max_size_mb", 0)
	v.SetDefault("logs.max_backups", 0)
	v.SetDefault("logs.max_age_days", 0)
	v.SetDefault("logs.compress", false)

	v.SetDefault("supervisor.backend", BackendNative)
	v.SetDefault("supervisor.pm2_binary", "pm2")
	v.SetDefault("supervisor.command_timeout", 15*time.Second)
	v.SetDefault("supervisor.settle_delay", 800*time.Millisecond)
	v.SetDefault("supervisor.stop_grace", 3*time.Second)
	v.SetDefault("supervisor.callback_url", "http://127.0.0.1:3000/api/bots")
	v.SetDefault("supervisor.default_command", "python3 bot.py")
	v.SetDefault("supervisor.sweep", true)
	v.SetDefault("supervisor.sweep_default_script", "bot.py")
	v.SetDefault("supervisor.lock_dir", "")
	v.SetDefault("supervisor.lock_timeout", 60*time.Second)
	v.SetDefault("supervisor.env", []string{})
	v.SetDefault("supervisor.env_files", []string{})
	v.SetDefault("supervisor.use_os_env", true)
	v.SetDefault("supervisor.kill_on_exit", false)

	v.SetDefault("store.dsn", "sqlite://agentdeck.db")
	v.SetDefault("history.sinks", []string{})

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.api_base", "https://discord.com/api/v10")
	v.SetDefault("stats.timeout", 5*time.Second)
}

// Load reads path (when non-empty), applies defaults and environment
// overrides, resolves relative paths against the file's directory and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := ""
	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		base = filepath.Dir(abs)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = path
	// Lists from env overrides arrive as one space separated string.
	cfg.Workspace.Ignore = splitList(cfg.Workspace.Ignore)
	cfg.History.Sinks = splitList(cfg.History.Sinks)
	cfg.Supervisor.EnvFiles = splitList(cfg.Supervisor.EnvFiles)

	cfg.resolvePaths(base)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(in []string) []string {
	if len(in) != 1 || !strings.ContainsAny(in[0], " ,") {
		return in
	}
	return strings.FieldsFunc(in[0], func(r rune) bool { return r == ' ' || r == ',' })
}

func (c *Config) resolvePaths(base string) {
	if base == "" {
		return
	}
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Workspace.Root = abs(c.Workspace.Root)
	c.Logs.Dir = abs(c.Logs.Dir)
	c.Supervisor.LockDir = abs(c.Supervisor.LockDir)
	for i, f := range c.Supervisor.EnvFiles {
		c.Supervisor.EnvFiles[i] = abs(f)
	}
	c.Server.TLS.CertFile = abs(c.Server.TLS.CertFile)
	c.Server.TLS.KeyFile = abs(c.Server.TLS.KeyFile)
	c.Server.TLS.Dir = abs(c.Server.TLS.Dir)
	c.Log.File = abs(c.Log.File)
	if rest, ok := strings.CutPrefix(c.Store.DSN, "sqlite://"); ok && rest != "" && !strings.HasPrefix(rest, ":memory:") {
		c.Store.DSN = "sqlite://" + abs(rest)
	}
}

// LegacyLogFile is the shared log under the workspace root, or "" when
// disabled.
func (c *Config) LegacyLogFile() string {
	if c.Logs.LegacyFile == "" || filepath.IsAbs(c.Logs.LegacyFile) {
		return c.Logs.LegacyFile
	}
	return filepath.Join(c.Workspace.Root, c.Logs.LegacyFile)
}

// LockDir defaults to <logs.dir>/locks.
func (c *Config) LockDir() string {
	if c.Supervisor.LockDir != "" {
		return c.Supervisor.LockDir
	}
	return filepath.Join(c.Logs.Dir, "locks")
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Workspace.Root) == "" {
		errs = append(errs, errors.New("workspace.root must not be empty"))
	}
	switch c.Supervisor.Backend {
	case BackendNative, BackendPM2:
	default:
		errs = append(errs, fmt.Errorf("supervisor.backend: unknown backend %q", c.Supervisor.Backend))
	}
	for name, d := range map[string]time.Duration{
		"supervisor.command_timeout": c.Supervisor.CommandTimeout,
		"supervisor.settle_delay":    c.Supervisor.SettleDelay,
		"supervisor.stop_grace":      c.Supervisor.StopGrace,
		"supervisor.lock_timeout":    c.Supervisor.LockTimeout,
		"stats.timeout":              c.Stats.Timeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Supervisor.Backend == BackendPM2 && c.Supervisor.LockTimeout <= c.Supervisor.CommandTimeout {
		errs = append(errs, errors.New("supervisor.lock_timeout must be longer than supervisor.command_timeout"))
	}
	if c.Logs.TailLines < 0 || c.Logs.LegacyTailLines < 0 {
		errs = append(errs, errors.New("logs tail line counts must not be negative"))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn must not be empty"))
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls: cert_file and key_file must be set together"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EnsureDirs creates the directories the console writes into.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.Workspace.Root, c.Logs.Dir, c.LockDir()} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
