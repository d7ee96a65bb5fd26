package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Game     GameConfig     `yaml:"game"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication settings. JWTSecret validates externally
// issued global tokens; APIKeys are static global keys, either plain or
// bcrypt-hashed ($2a$... prefix).
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	APIKeys       []string      `yaml:"api_keys"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// GameConfig holds game-server facing settings
type GameConfig struct {
	SayPrefix        string        `yaml:"say_prefix"`
	SnapshotDebounce time.Duration `yaml:"snapshot_debounce"`
	DefaultMapPool   []string      `yaml:"default_map_pool"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with all defaults applied, for running without a
// config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/matchdeck/matchdeck.db"
	}
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
	if cfg.Game.SayPrefix == "" {
		cfg.Game.SayPrefix = "[matchdeck]"
	}
	if cfg.Game.SnapshotDebounce == 0 {
		cfg.Game.SnapshotDebounce = 2 * time.Second
	}
	if len(cfg.Game.DefaultMapPool) == 0 {
		cfg.Game.DefaultMapPool = []string{
			"de_dust2", "de_inferno", "de_mirage", "de_nuke",
			"de_overpass", "de_ancient", "de_anubis",
		}
	}
}

// Save writes the configuration back to a YAML file
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Runtime holds the live configuration, swappable without a restart. Readers
// get a consistent snapshot; a concurrent update never tears.
type Runtime struct {
	current atomic.Pointer[Config]
}

// NewRuntime wraps a loaded config
func NewRuntime(cfg *Config) *Runtime {
	r := &Runtime{}
	r.current.Store(cfg)
	return r
}

// Get returns the current configuration snapshot
func (r *Runtime) Get() *Config {
	return r.current.Load()
}

// Set replaces the current configuration
func (r *Runtime) Set(cfg *Config) {
	r.current.Store(cfg)
}
