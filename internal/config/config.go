// Package config loads live-meeting settings from TOML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rcliao/live-meeting/internal/history"
	"github.com/rcliao/live-meeting/internal/merge"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Duration decodes Go duration strings such as "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// AI holds the language model settings.
type AI struct {
	BaseURL       string  `toml:"base_url" json:"base_url,omitempty"`
	Model         string  `toml:"model" json:"model,omitempty"`
	APIKeyEnv     string  `toml:"api_key_env" json:"api_key_env"`
	Temperature   float64 `toml:"temperature" json:"temperature"`
	ImprovePrompt string  `toml:"improve_prompt" json:"improve_prompt,omitempty"`
	AnalyzePrompt string  `toml:"analyze_prompt" json:"analyze_prompt,omitempty"`
}

// APIKey reads the key from the configured environment variable.
func (a AI) APIKey() string {
	return os.Getenv(a.APIKeyEnv)
}

// Config is the full settings file.
type Config struct {
	DBPath          string   `toml:"db_path" json:"db_path"`
	Backend         string   `toml:"backend" json:"backend"`
	RedisURL        string   `toml:"redis_url" json:"redis_url,omitempty"`
	GapThreshold    Duration `toml:"gap_threshold" json:"gap_threshold"`
	MinMeetingChars int      `toml:"min_meeting_chars" json:"min_meeting_chars"`
	LogLevel        string   `toml:"log_level" json:"log_level"`
	LogFormat       string   `toml:"log_format" json:"log_format"`
	AI              AI       `toml:"ai" json:"ai"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DBPath:          DefaultDBPath(),
		Backend:         BackendSQLite,
		GapThreshold:    Duration{merge.DefaultGapThreshold},
		MinMeetingChars: history.DefaultMinChars,
		LogLevel:        "info",
		LogFormat:       "text",
		AI: AI{
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.3,
		},
	}
}

// DefaultDBPath returns $LIVE_MEETING_DB or ~/.live-meeting/meetings.db.
func DefaultDBPath() string {
	if p := os.Getenv("LIVE_MEETING_DB"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "meetings.db"
	}
	return filepath.Join(home, ".live-meeting", "meetings.db")
}

// DefaultPath returns $LIVE_MEETING_CONFIG or ~/.config/live-meeting/config.toml.
func DefaultPath() string {
	if p := os.Getenv("LIVE_MEETING_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "live-meeting", "config.toml")
}

// Load reads path over the defaults. A missing file yields the defaults.
// LIVE_MEETING_DB still wins over db_path from the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				return nil, fmt.Errorf("config %s: unknown keys %v", path, undecoded)
			}
		}
	}
	if p := os.Getenv("LIVE_MEETING_DB"); p != "" {
		cfg.DBPath = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if c.DBPath == "" {
			return errors.New("config: db_path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: redis_url is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.GapThreshold.Duration <= 0 {
		return fmt.Errorf("config: gap_threshold must be positive, got %s", c.GapThreshold.Duration)
	}
	if c.MinMeetingChars < 0 {
		return fmt.Errorf("config: min_meeting_chars must not be negative, got %d", c.MinMeetingChars)
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("config: ai.temperature must be in [0, 2], got %g", c.AI.Temperature)
	}
	return nil
}

// MergeOptions returns the merge policy settings.
func (c *Config) MergeOptions() merge.Options {
	return merge.Options{GapThreshold: c.GapThreshold.Duration}
}

// HistoryOptions returns the meeting grouping settings.
func (c *Config) HistoryOptions() history.Options {
	return history.Options{GapThreshold: c.GapThreshold.Duration, MinChars: c.MinMeetingChars}
}
