// Package config loads and saves the application configuration: where
// the store lives, the configured accounts, OAuth client settings, and
// sync tuning. Environment variables prefixed MAILSTORE_ override file
// values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig describes one server endpoint of an account.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
	TLS  bool   `mapstructure:"tls" yaml:"tls"`
}

// AccountConfig describes one configured mail account. Passwords are
// never stored here; they live in the vault keyed by the account ID.
type AccountConfig struct {
	ID       string `mapstructure:"id" yaml:"id"`
	Name     string `mapstructure:"name" yaml:"name"`
	Address  string `mapstructure:"address" yaml:"address"`
	Protocol string `mapstructure:"protocol" yaml:"protocol"`

	Incoming ServerConfig `mapstructure:"incoming" yaml:"incoming"`
	Outgoing ServerConfig `mapstructure:"outgoing" yaml:"outgoing"`

	// OAuthProvider names an entry in the top-level oauth map when the
	// account authenticates with OAuth instead of a password.
	OAuthProvider string `mapstructure:"oauth_provider" yaml:"oauth_provider,omitempty"`
}

// OAuthProvider holds the client settings for one OAuth identity
// provider. Known providers are "gmail" and "outlook".
type OAuthProvider struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
}

// SyncConfig tunes the background sync loops.
type SyncConfig struct {
	IntervalSec    int `mapstructure:"interval_sec" yaml:"interval_sec"`
	BatchSize      int `mapstructure:"batch_size" yaml:"batch_size"`
	OutboxPerCycle int `mapstructure:"outbox_per_cycle" yaml:"outbox_per_cycle"`
}

// Config is the top-level application configuration.
type Config struct {
	// DBPath is the SQLite database file location.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	Accounts []AccountConfig          `mapstructure:"accounts" yaml:"accounts"`
	OAuth    map[string]OAuthProvider `mapstructure:"oauth" yaml:"oauth,omitempty"`
	Sync     SyncConfig               `mapstructure:"sync" yaml:"sync"`
}

// DefaultConfigPath returns the default configuration file location,
// ~/.config/mailstore/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailstore", "config.yaml")
}

// defaultDBPath puts the store next to the config file.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailstore.db")
	}
	return filepath.Join(home, ".config", "mailstore", "mailstore.db")
}

func defaultConfig() *Config {
	return &Config{
		DBPath: defaultDBPath(),
		Sync: SyncConfig{
			IntervalSec:    120,
			BatchSize:      50,
			OutboxPerCycle: 10,
		},
	}
}

// Load reads configuration from the given YAML file. A missing file
// yields the defaults. Precedence is environment, then file, then
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("MAILSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("sync.interval_sec", 120)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.outbox_per_cycle", 10)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return loadFromViper(v, path)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return loadFromViper(v, path)
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	return loadFromViper(v, path)
}

func loadFromViper(v *viper.Viper, path string) (*Config, error) {
	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.Protocol == "" {
			a.Protocol = "imap"
		}
		if a.OAuthProvider != "" {
			if _, ok := cfg.OAuth[a.OAuthProvider]; !ok {
				return nil, fmt.Errorf(
					"account %s references unknown oauth provider %q", a.ID, a.OAuthProvider,
				)
			}
		}
	}

	if cfg.Sync.IntervalSec <= 0 {
		cfg.Sync.IntervalSec = 120
	}
	if cfg.Sync.BatchSize <= 0 {
		cfg.Sync.BatchSize = 50
	}
	if cfg.Sync.OutboxPerCycle <= 0 {
		cfg.Sync.OutboxPerCycle = 10
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file at path, creating parent
// directories as needed.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("db_path", cfg.DBPath)
	v.Set("accounts", cfg.Accounts)
	if len(cfg.OAuth) > 0 {
		v.Set("oauth", cfg.OAuth)
	}
	v.Set("sync", cfg.Sync)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
