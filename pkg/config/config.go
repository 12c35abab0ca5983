package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Database DatabaseConfig `mapstructure:"database"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Clone    CloneConfig    `mapstructure:"clone"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Server   ServerConfig   `mapstructure:"server"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// GitHubConfig holds API credentials and the retry policy for API calls
type GitHubConfig struct {
	Token            string        `mapstructure:"token"`
	BaseURL          string        `mapstructure:"base_url"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RateLimitPadding time.Duration `mapstructure:"rate_limit_padding"`
	AbuseDelayMin    time.Duration `mapstructure:"abuse_delay_min"`
	AbuseDelayMax    time.Duration `mapstructure:"abuse_delay_max"`
	TimeoutDelay     time.Duration `mapstructure:"timeout_delay"`
}

type CloneConfig struct {
	Path          string `mapstructure:"path"`
	SSHUser       string `mapstructure:"ssh_user"`
	SSHPrivateKey string `mapstructure:"ssh_private_key"`
	SSHPassword   string `mapstructure:"ssh_password"`
}

// ScanConfig holds limits and rescan intervals for crawling
type ScanConfig struct {
	MaxNewCommits             int           `mapstructure:"max_new_commits"`
	FlushSize                 int           `mapstructure:"flush_size"`
	MaxRepositorySizeKB       int           `mapstructure:"max_repository_size_kb"`
	MaxRepositoriesPerUser    int           `mapstructure:"max_repositories_per_user"`
	RepositoryRescanInterval  time.Duration `mapstructure:"repository_rescan_interval"`
	ContributorRescanInterval time.Duration `mapstructure:"contributor_rescan_interval"`
	ForkDepth                 int           `mapstructure:"fork_depth"`
}

type WorkersConfig struct {
	UserScan   int           `mapstructure:"user_scan"`
	CommitScan int           `mapstructure:"commit_scan"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

var defaults = map[string]interface{}{
	"log_level": "info",

	"database.path": "./gitalizer.db",

	"github.token":              "",
	"github.base_url":           "",
	"github.max_attempts":       5,
	"github.rate_limit_padding": 2 * time.Minute,
	"github.abuse_delay_min":    180 * time.Second,
	"github.abuse_delay_max":    480 * time.Second,
	"github.timeout_delay":      10 * time.Second,

	"clone.path":            "/tmp/gitalizer",
	"clone.ssh_user":        "git",
	"clone.ssh_private_key": "",
	"clone.ssh_password":    "",

	"scan.max_new_commits":             100000,
	"scan.flush_size":                  1000,
	"scan.max_repository_size_kb":      10 * 1024 * 1024,
	"scan.max_repositories_per_user":   3000,
	"scan.repository_rescan_interval":  5 * 24 * time.Hour,
	"scan.contributor_rescan_interval": 14 * 24 * time.Hour,
	"scan.fork_depth":                  3,

	"workers.user_scan":   4,
	"workers.commit_scan": 4,
	"workers.cooldown":    time.Second,

	"server.port": "8080",
	"server.mode": "release",
}

// Load reads configuration from an optional YAML file, a .env file and
// environment variables. Environment variables use the upper-cased key with
// dots replaced by underscores, e.g. GITHUB_TOKEN or SCAN_FLUSH_SIZE.
func Load(path string) (*Config, error) {
	// A missing .env file is not an error
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gitalizer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the limits make sense
func (c *Config) Validate() error {
	switch {
	case c.GitHub.MaxAttempts < 1:
		return errors.New("github.max_attempts must be at least 1")
	case c.GitHub.AbuseDelayMax < c.GitHub.AbuseDelayMin:
		return errors.New("github.abuse_delay_max must not be below github.abuse_delay_min")
	case c.Scan.MaxNewCommits < 1:
		return errors.New("scan.max_new_commits must be at least 1")
	case c.Scan.FlushSize < 1:
		return errors.New("scan.flush_size must be at least 1")
	case c.Workers.UserScan < 1 || c.Workers.CommitScan < 1:
		return errors.New("worker counts must be at least 1")
	case c.Clone.Path == "":
		return errors.New("clone.path is required")
	}
	return nil
}
