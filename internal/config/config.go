// Package config loads forgecache settings from an optional YAML file,
// FORGECACHE_* environment variables and built-in defaults, in that order of
// precedence (environment wins over the file).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/forgecache/internal/remote"
)

// EnvPrefix is prepended to every environment override, e.g.
// FORGECACHE_DATABASE_PATH for database.path.
const EnvPrefix = "FORGECACHE"

// Remote kinds.
const (
	RemoteGH      = "gh"
	RemoteFixture = "fixture"
)

type Config struct {
	Database     Database
	Remote       Remote
	Auth         Auth
	Cache        Cache
	PullRequests PullRequests
	Refresh      Refresh
	Sync         Sync

	// File is the config file that was read, or "" when none was found.
	File string
}

type Database struct {
	Path string
}

type Remote struct {
	Kind    string
	Fixture string
	Binary  string
	Timeout time.Duration
}

type Auth struct {
	TokenEnv string
	Login    string
}

type Cache struct {
	RepositoryTTL  time.Duration
	PullRequestTTL time.Duration
	IssueTTL       time.Duration
	BranchTTL      time.Duration
	CheckTTL       time.Duration
}

type PullRequests struct {
	State remote.ListState
}

type Refresh struct {
	CheckInterval time.Duration
}

type Sync struct {
	AutoSyncAfter time.Duration
	StatusHold    time.Duration
}

// defaultDatabasePath places the database in the user cache directory.
func defaultDatabasePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "forgecache.db"
	}
	return filepath.Join(dir, "forgecache", "forgecache.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", defaultDatabasePath())

	v.SetDefault("remote.kind", RemoteGH)
	v.SetDefault("remote.fixture", "")
	v.SetDefault("remote.binary", "gh")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("auth.token_env", "GITHUB_TOKEN")
	v.SetDefault("auth.login", "")

	v.SetDefault("cache.repository_ttl", 5*time.Minute)
	v.SetDefault("cache.pull_request_ttl", 5*time.Minute)
	v.SetDefault("cache.issue_ttl", 5*time.Minute)
	v.SetDefault("cache.branch_ttl", 5*time.Minute)
	v.SetDefault("cache.check_ttl", 2*time.Minute)

	v.SetDefault("pull_requests.state", string(remote.ListOpen))

	v.SetDefault("refresh.check_interval", 30*time.Second)

	v.SetDefault("sync.auto_sync_after", 5*time.Minute)
	v.SetDefault("sync.status_hold", 3*time.Second)
}

// Load reads the configuration. With an explicit path the file must exist;
// otherwise forgecache.yaml is searched in $XDG_CONFIG_HOME/forgecache (or
// the OS equivalent) and the working directory, and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("forgecache")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "forgecache"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	rawState := strings.ToLower(v.GetString("pull_requests.state"))
	state := remote.ParseListState(rawState)
	if string(state) != rawState {
		return nil, fmt.Errorf("pull_requests.state %q: want open, closed or all", rawState)
	}

	cfg := &Config{
		Database: Database{
			Path: v.GetString("database.path"),
		},
		Remote: Remote{
			Kind:    v.GetString("remote.kind"),
			Fixture: v.GetString("remote.fixture"),
			Binary:  v.GetString("remote.binary"),
			Timeout: v.GetDuration("remote.timeout"),
		},
		Auth: Auth{
			TokenEnv: v.GetString("auth.token_env"),
			Login:    v.GetString("auth.login"),
		},
		Cache: Cache{
			RepositoryTTL:  v.GetDuration("cache.repository_ttl"),
			PullRequestTTL: v.GetDuration("cache.pull_request_ttl"),
			IssueTTL:       v.GetDuration("cache.issue_ttl"),
			BranchTTL:      v.GetDuration("cache.branch_ttl"),
			CheckTTL:       v.GetDuration("cache.check_ttl"),
		},
		PullRequests: PullRequests{
			State: state,
		},
		Refresh: Refresh{
			CheckInterval: v.GetDuration("refresh.check_interval"),
		},
		Sync: Sync{
			AutoSyncAfter: v.GetDuration("sync.auto_sync_after"),
			StatusHold:    v.GetDuration("sync.status_hold"),
		},
		File: v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Remote.Kind {
	case RemoteGH:
	case RemoteFixture:
		if c.Remote.Fixture == "" {
			return errors.New("remote.fixture is required when remote.kind is fixture")
		}
	default:
		return fmt.Errorf("remote.kind %q: want %s or %s", c.Remote.Kind, RemoteGH, RemoteFixture)
	}
	if c.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"remote.timeout":         c.Remote.Timeout,
		"cache.repository_ttl":   c.Cache.RepositoryTTL,
		"cache.pull_request_ttl": c.Cache.PullRequestTTL,
		"cache.issue_ttl":        c.Cache.IssueTTL,
		"cache.branch_ttl":       c.Cache.BranchTTL,
		"cache.check_ttl":        c.Cache.CheckTTL,
		"refresh.check_interval": c.Refresh.CheckInterval,
		"sync.auto_sync_after":   c.Sync.AutoSyncAfter,
		"sync.status_hold":       c.Sync.StatusHold,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}
