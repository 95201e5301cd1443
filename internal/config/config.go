package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "LIVESCORE"

// MaxSnapshotLimit is the Snapshot Store bound display surfaces rely on.
const MaxSnapshotLimit = 20

// Config represents the complete service configuration
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Session  SessionConfig  `mapstructure:"session"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// StreamConfig controls the remote subscription and the liveness poll
type StreamConfig struct {
	Source         string        `mapstructure:"source"` // websocket or replay
	URL            string        `mapstructure:"url"`
	ReplayFile     string        `mapstructure:"replay_file"`
	ReplaySpeed    time.Duration `mapstructure:"replay_speed"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	KickoffLead    time.Duration `mapstructure:"kickoff_lead"`
	KickoffGrace   time.Duration `mapstructure:"kickoff_grace"`
}

type SnapshotConfig struct {
	Path      string `mapstructure:"path"`
	Limit     int    `mapstructure:"limit"`
	GoalLines int    `mapstructure:"goal_lines"`
}

type CacheConfig struct {
	Driver     string `mapstructure:"driver"` // sqlite or redis
	SQLitePath string `mapstructure:"sqlite_path"`
	RedisAddr  string `mapstructure:"redis_addr"`
}

type SessionConfig struct {
	Sink      string `mapstructure:"sink"` // log or redis
	RedisAddr string `mapstructure:"redis_addr"`
	// FavoriteTeams limits live sessions to fixtures involving these team
	// ids. Empty means every fixture.
	FavoriteTeams []int `mapstructure:"favorite_teams"`
}

type FanoutConfig struct {
	Workers int `mapstructure:"workers"`
}

type HTTPConfig struct {
	Addr      string  `mapstructure:"addr"`
	RateRPS   float64 `mapstructure:"rate_rps"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// Load reads configuration from an optional file and environment variables.
// LIVESCORE_STREAM_URL overrides stream.url and so on.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("stream.source", "websocket")
	v.SetDefault("stream.url", "ws://localhost:8090/feed")
	v.SetDefault("stream.replay_file", "")
	v.SetDefault("stream.replay_speed", "100ms")
	v.SetDefault("stream.reconnect_delay", "5s")
	v.SetDefault("stream.poll_interval", "30s")
	v.SetDefault("stream.kickoff_lead", "10m")
	v.SetDefault("stream.kickoff_grace", "3h")

	v.SetDefault("snapshot.path", "./data/snapshots.json")
	v.SetDefault("snapshot.limit", MaxSnapshotLimit)
	v.SetDefault("snapshot.goal_lines", 3)

	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.sqlite_path", "./data/fixtures.db")
	v.SetDefault("cache.redis_addr", "localhost:6379")

	v.SetDefault("session.sink", "log")
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.favorite_teams", []int{})

	v.SetDefault("fanout.workers", 2)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_rps", 1.0)
	v.SetDefault("http.rate_burst", 3)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	switch c.Stream.Source {
	case "websocket":
		if c.Stream.URL == "" {
			return fmt.Errorf("stream.url is required for the websocket source")
		}
	case "replay":
		if c.Stream.ReplayFile == "" {
			return fmt.Errorf("stream.replay_file is required for the replay source")
		}
	default:
		return fmt.Errorf("stream.source must be one of: websocket, replay")
	}
	if c.Stream.ReplaySpeed < 0 {
		return fmt.Errorf("stream.replay_speed must not be negative")
	}
	if c.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be positive")
	}
	if c.Stream.PollInterval < time.Second {
		return fmt.Errorf("stream.poll_interval must be at least 1 second")
	}
	if c.Stream.KickoffLead < 0 || c.Stream.KickoffGrace < 0 {
		return fmt.Errorf("stream.kickoff_lead and stream.kickoff_grace must not be negative")
	}

	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path is required")
	}
	if c.Snapshot.Limit < 1 || c.Snapshot.Limit > MaxSnapshotLimit {
		return fmt.Errorf("snapshot.limit must be between 1 and %d", MaxSnapshotLimit)
	}
	if c.Snapshot.GoalLines < 0 {
		return fmt.Errorf("snapshot.goal_lines must not be negative")
	}

	switch c.Cache.Driver {
	case "sqlite":
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("cache.sqlite_path is required for the sqlite driver")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("cache.driver must be one of: sqlite, redis")
	}

	switch c.Session.Sink {
	case "log":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required for the redis sink")
		}
	default:
		return fmt.Errorf("session.sink must be one of: log, redis")
	}

	if c.Fanout.Workers < 1 {
		return fmt.Errorf("fanout.workers must be at least 1")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.RateRPS <= 0 || c.HTTP.RateBurst < 1 {
		return fmt.Errorf("http.rate_rps must be positive and http.rate_burst at least 1")
	}
	return nil
}
