// Package config handles configuration loading and management for Armada.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/armada/internal/fleet/policy"
)

// Config holds all configuration for Armada.
type Config struct {
	Retry    RetryConfig    `mapstructure:"retry"`
	Squads   SquadsConfig   `mapstructure:"squads"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Drain    DrainConfig    `mapstructure:"drain"`
	Events   EventsConfig   `mapstructure:"events"`
	Conflict ConflictConfig `mapstructure:"conflict"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Server   ServerConfig   `mapstructure:"server"`
	Debug    bool           `mapstructure:"debug"`
}

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// SquadsConfig holds squad composition settings.
type SquadsConfig struct {
	Coders      int           `mapstructure:"coders"`
	Testers     int           `mapstructure:"testers"`
	IncludeData bool          `mapstructure:"include_data"`
	Capacity    int           `mapstructure:"capacity"`
	Max         int           `mapstructure:"max"`
	IdleGrace   time.Duration `mapstructure:"idle_grace"`
}

// LoopConfig holds coordinator loop settings.
type LoopConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	InboxSize        int           `mapstructure:"inbox_size"`
	ThroughputWindow time.Duration `mapstructure:"throughput_window"`
}

// DrainConfig holds graceful stop settings.
type DrainConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// EventsConfig holds event stream settings.
type EventsConfig struct {
	HistorySize      int `mapstructure:"history_size"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	MessageWindow    int `mapstructure:"message_window"`
}

// ConflictConfig holds overlap detection settings.
type ConflictConfig struct {
	Strategy  string   `mapstructure:"strategy"`
	Protected []string `mapstructure:"protected"`
}

// ExecutorConfig selects how stories are executed.
type ExecutorConfig struct {
	// Mode is "simulate" or "command".
	Mode string `mapstructure:"mode"`
	// Command is the agent command line used in command mode.
	Command string `mapstructure:"command"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Executor modes.
const (
	ModeSimulate = "simulate"
	ModeCommand  = "command"
)

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ARMADA_RETRY_MAX_ATTEMPTS, ARMADA_AGENT_COMMAND, ...)
// 2. Project config (.armada.yaml in current directory or parent)
// 3. User config (~/.config/armada/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Executor.Command = os.ExpandEnv(cfg.Executor.Command)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Executor.Command = os.ExpandEnv(cfg.Executor.Command)
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	for key, val := range cfg.settings() {
		v.Set(key, val)
	}
	return v.WriteConfig()
}

// settings flattens cfg into viper keys.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"retry.max_attempts":       c.Retry.MaxAttempts,
		"retry.base_backoff":       c.Retry.BaseBackoff.String(),
		"retry.max_backoff":        c.Retry.MaxBackoff.String(),
		"squads.coders":            c.Squads.Coders,
		"squads.testers":           c.Squads.Testers,
		"squads.include_data":      c.Squads.IncludeData,
		"squads.capacity":          c.Squads.Capacity,
		"squads.max":               c.Squads.Max,
		"squads.idle_grace":        c.Squads.IdleGrace.String(),
		"loop.tick_interval":       c.Loop.TickInterval.String(),
		"loop.inbox_size":          c.Loop.InboxSize,
		"loop.throughput_window":   c.Loop.ThroughputWindow.String(),
		"drain.timeout":            c.Drain.Timeout.String(),
		"events.history_size":      c.Events.HistorySize,
		"events.subscriber_buffer": c.Events.SubscriberBuffer,
		"events.message_window":    c.Events.MessageWindow,
		"conflict.strategy":        c.Conflict.Strategy,
		"conflict.protected":       c.Conflict.Protected,
		"executor.mode":            c.Executor.Mode,
		"executor.command":         c.Executor.Command,
		"server.addr":              c.Server.Addr,
		"debug":                    c.Debug,
	}
}

// Keys returns every configuration key with its current value, sorted by key.
func (c *Config) Keys() []KeyValue {
	s := c.settings()
	out := make([]KeyValue, 0, len(s))
	for k, v := range s {
		out = append(out, KeyValue{Key: k, Value: fmt.Sprint(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Get returns the value of one flattened key.
func (c *Config) Get(key string) (string, error) {
	val, ok := c.settings()[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return fmt.Sprint(val), nil
}

// Set parses value into the setting named by key. Durations, numbers, and
// booleans are converted the same way as in config files; lists are comma
// separated.
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(key)
	current := c.settings()
	if _, ok := current[key]; !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	v := viper.New()
	for k, val := range current {
		v.Set(k, val)
	}
	v.Set(key, value)

	next := &Config{}
	if err := v.Unmarshal(next); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*c = *next
	return nil
}

// KeyValue is one flattened configuration setting.
type KeyValue struct {
	Key   string
	Value string
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Policy converts the configuration into fleet policy. The result is validated,
// so out-of-range values come back clamped.
func (c *Config) Policy() *policy.Config {
	p := &policy.Config{
		Retry: policy.RetryPolicy{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseBackoff: c.Retry.BaseBackoff,
			MaxBackoff:  c.Retry.MaxBackoff,
		},
		Squad: policy.SquadPolicy{
			Coders:      c.Squads.Coders,
			Testers:     c.Squads.Testers,
			IncludeData: c.Squads.IncludeData,
			Capacity:    c.Squads.Capacity,
			MaxSquads:   c.Squads.Max,
			IdleGrace:   c.Squads.IdleGrace,
		},
		Loop: policy.LoopPolicy{
			TickInterval:     c.Loop.TickInterval,
			InboxSize:        c.Loop.InboxSize,
			ThroughputWindow: c.Loop.ThroughputWindow,
		},
		Drain: policy.DrainPolicy{Timeout: c.Drain.Timeout},
		Events: policy.EventsPolicy{
			HistorySize:      c.Events.HistorySize,
			SubscriberBuffer: c.Events.SubscriberBuffer,
			MessageWindow:    c.Events.MessageWindow,
		},
		Conflict: policy.ConflictPolicy{
			Strategy:          c.Conflict.Strategy,
			ProtectedPatterns: append([]string(nil), c.Conflict.Protected...),
		},
	}
	_ = p.Validate()
	return p
}

// setDefaults configures default values from policy.Default.
func setDefaults(v *viper.Viper) {
	for key, val := range Default().settings() {
		v.SetDefault(key, val)
	}
}

// bindEnv maps ARMADA_* variables onto nested keys, e.g. ARMADA_RETRY_MAX_ATTEMPTS.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("armada")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("executor.command", "ARMADA_AGENT_COMMAND", "ARMADA_EXECUTOR_COMMAND")
}

// getUserConfigDir returns the XDG config directory for Armada.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "armada")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "armada")
	}
	return filepath.Join(home, ".config", "armada")
}

// findProjectConfig searches for .armada.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".armada.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	p := policy.Default()
	return &Config{
		Retry: RetryConfig{
			MaxAttempts: p.Retry.MaxAttempts,
			BaseBackoff: p.Retry.BaseBackoff,
			MaxBackoff:  p.Retry.MaxBackoff,
		},
		Squads: SquadsConfig{
			Coders:      p.Squad.Coders,
			Testers:     p.Squad.Testers,
			IncludeData: p.Squad.IncludeData,
			Capacity:    p.Squad.Capacity,
			Max:         p.Squad.MaxSquads,
			IdleGrace:   p.Squad.IdleGrace,
		},
		Loop: LoopConfig{
			TickInterval:     p.Loop.TickInterval,
			InboxSize:        p.Loop.InboxSize,
			ThroughputWindow: p.Loop.ThroughputWindow,
		},
		Drain: DrainConfig{Timeout: p.Drain.Timeout},
		Events: EventsConfig{
			HistorySize:      p.Events.HistorySize,
			SubscriberBuffer: p.Events.SubscriberBuffer,
			MessageWindow:    p.Events.MessageWindow,
		},
		Conflict: ConflictConfig{
			Strategy:  p.Conflict.Strategy,
			Protected: []string{},
		},
		Executor: ExecutorConfig{Mode: ModeSimulate},
		Server:   ServerConfig{Addr: "127.0.0.1:7420"},
	}
}
