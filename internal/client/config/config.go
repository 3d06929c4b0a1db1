package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/polydrive/polydrive/internal/client/index"
	clientsync "github.com/polydrive/polydrive/internal/client/sync"
	"github.com/polydrive/polydrive/internal/client/watcher"
	"github.com/polydrive/polydrive/internal/utils"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// unix socket paths are limited to sizeof(sun_path) minus the terminator on darwin
const maxSocketPath = 103

var (
	home, _           = os.UserHomeDir()
	DefaultStateDir   = filepath.Join(home, ".polydrive")
	DefaultConfigPath = filepath.Join(DefaultStateDir, "config.yml")
	DefaultServerURL  = "http://127.0.0.1:8080"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Path       string        `mapstructure:"-"`
	ServerURL  string        `mapstructure:"server_url"`
	Watch      []string      `mapstructure:"watch"`
	SocketPath string        `mapstructure:"socket_path"`
	StateDir   string        `mapstructure:"state_dir"`
	LogFile    string        `mapstructure:"log_file"`
	Ignore     []string      `mapstructure:"ignore"`
	Policy     PolicyConfig  `mapstructure:"policy"`
	Watcher    WatcherConfig `mapstructure:"watcher"`
	Sync       SyncConfig    `mapstructure:"sync"`
}

type PolicyConfig struct {
	RemoteOnly    string `mapstructure:"remote_only"`
	OfflineDelete string `mapstructure:"offline_delete"`
}

type WatcherConfig struct {
	Backend  string        `mapstructure:"backend"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type SyncConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("watch", []string{})
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("socket_path", "")
	v.SetDefault("log_file", "")
	v.SetDefault("ignore", []string{})
	v.SetDefault("policy.remote_only", string(index.PolicyConflict))
	v.SetDefault("policy.offline_delete", string(index.OfflineKeep))
	v.SetDefault("watcher.backend", string(watcher.BackendFsnotify))
	v.SetDefault("watcher.debounce", watcher.DefaultDebounce)
	v.SetDefault("sync.concurrency", clientsync.DefaultConcurrency)
	v.SetDefault("sync.max_attempts", clientsync.DefaultMaxAttempts)
	v.SetDefault("sync.base_backoff", clientsync.DefaultBaseBackoff)
	v.SetDefault("sync.max_backoff", clientsync.DefaultMaxBackoff)
	v.SetDefault("sync.poll_interval", clientsync.DefaultPollInterval)
}

// Load decodes the effective configuration held by v and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes paths and fills the values derived from state_dir
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: server url %q must be an http(s) url", ErrInvalidConfig, c.ServerURL)
	}

	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.StateDir, err = utils.ResolvePath(c.StateDir); err != nil {
		return fmt.Errorf("%w: state dir: %w", ErrInvalidConfig, err)
	}

	if c.SocketPath == "" {
		c.SocketPath = filepath.Join(c.StateDir, "polydrive.sock")
	}
	if c.SocketPath, err = utils.ResolvePath(c.SocketPath); err != nil {
		return fmt.Errorf("%w: socket path: %w", ErrInvalidConfig, err)
	}
	if len(c.SocketPath) > maxSocketPath {
		return fmt.Errorf("%w: socket path %q is longer than %d bytes", ErrInvalidConfig, c.SocketPath, maxSocketPath)
	}

	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.StateDir, "logs", "polydrive.log")
	}
	if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
		return fmt.Errorf("%w: log file: %w", ErrInvalidConfig, err)
	}

	for i, w := range c.Watch {
		if c.Watch[i], err = utils.ResolvePath(w); err != nil {
			return fmt.Errorf("%w: watch %q: %w", ErrInvalidConfig, w, err)
		}
	}

	policy, err := index.ParsePolicy(c.Policy.RemoteOnly)
	if err != nil {
		return fmt.Errorf("%w: policy.remote_only: %w", ErrInvalidConfig, err)
	}
	c.Policy.RemoteOnly = string(policy)

	offline, err := index.ParseOfflineDelete(c.Policy.OfflineDelete)
	if err != nil {
		return fmt.Errorf("%w: policy.offline_delete: %w", ErrInvalidConfig, err)
	}
	c.Policy.OfflineDelete = string(offline)

	backend, err := watcher.ParseBackend(c.Watcher.Backend)
	if err != nil {
		return fmt.Errorf("%w: watcher.backend: %w", ErrInvalidConfig, err)
	}
	c.Watcher.Backend = string(backend)

	if c.Watcher.Debounce <= 0 {
		return fmt.Errorf("%w: watcher.debounce must be positive", ErrInvalidConfig)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("%w: sync.concurrency must be at least 1", ErrInvalidConfig)
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("%w: sync.max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Sync.BaseBackoff <= 0 || c.Sync.MaxBackoff < c.Sync.BaseBackoff {
		return fmt.Errorf("%w: sync backoff needs 0 < base_backoff <= max_backoff", ErrInvalidConfig)
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("%w: sync.poll_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// JournalPath is the sqlite file recording the last synced state
func (c *Config) JournalPath() string {
	return filepath.Join(c.StateDir, "journal.db")
}

// RemotePolicy returns the validated remote-only policy
func (c *Config) RemotePolicy() index.RemotePolicy {
	return index.RemotePolicy(c.Policy.RemoteOnly)
}

func (c *Config) OfflineDelete() index.OfflineDeletePolicy {
	return index.OfflineDeletePolicy(c.Policy.OfflineDelete)
}

func (c *Config) Backend() watcher.Backend {
	return watcher.Backend(c.Watcher.Backend)
}

type yamlConfig struct {
	ServerURL  string   `yaml:"server_url"`
	Watch      []string `yaml:"watch"`
	SocketPath string   `yaml:"socket_path"`
	StateDir   string   `yaml:"state_dir"`
	LogFile    string   `yaml:"log_file"`
	Ignore     []string `yaml:"ignore"`
	Policy     struct {
		RemoteOnly    string `yaml:"remote_only"`
		OfflineDelete string `yaml:"offline_delete"`
	} `yaml:"policy"`
	Watcher struct {
		Backend  string `yaml:"backend"`
		Debounce string `yaml:"debounce"`
	} `yaml:"watcher"`
	Sync struct {
		Concurrency  int    `yaml:"concurrency"`
		MaxAttempts  int    `yaml:"max_attempts"`
		BaseBackoff  string `yaml:"base_backoff"`
		MaxBackoff   string `yaml:"max_backoff"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"sync"`
}

// YAML renders the config in the same shape the config file is read in.
// Durations are written as strings so the output can be fed back.
func (c *Config) YAML() ([]byte, error) {
	out := yamlConfig{
		ServerURL:  c.ServerURL,
		Watch:      c.Watch,
		SocketPath: c.SocketPath,
		StateDir:   c.StateDir,
		LogFile:    c.LogFile,
		Ignore:     c.Ignore,
	}
	if out.Watch == nil {
		out.Watch = []string{}
	}
	if out.Ignore == nil {
		out.Ignore = []string{}
	}
	out.Policy.RemoteOnly = c.Policy.RemoteOnly
	out.Policy.OfflineDelete = c.Policy.OfflineDelete
	out.Watcher.Backend = c.Watcher.Backend
	out.Watcher.Debounce = c.Watcher.Debounce.String()
	out.Sync.Concurrency = c.Sync.Concurrency
	out.Sync.MaxAttempts = c.Sync.MaxAttempts
	out.Sync.BaseBackoff = c.Sync.BaseBackoff.String()
	out.Sync.MaxBackoff = c.Sync.MaxBackoff.String()
	out.Sync.PollInterval = c.Sync.PollInterval.String()

	return yaml.Marshal(&out)
}
