// Package config provides configuration loading and management for Legion.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Legion configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Limits LimitsConfig `yaml:"limits"`
	NATS   NATSConfig   `yaml:"nats"`
	Inbox  InboxConfig  `yaml:"inbox"`
	Agents AgentsConfig `yaml:"agents"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	// Addr is the listen address (default: :8080)
	Addr string `yaml:"addr"`
	// Keepalive is the SSE keepalive interval
	Keepalive time.Duration `yaml:"keepalive"`
	// SubscriberBuffer is the per-subscriber queue length
	SubscriberBuffer int `yaml:"subscriber_buffer"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LimitsConfig bounds the in-memory logs
type LimitsConfig struct {
	// Comms is the per-chat communication log length
	Comms int `yaml:"comms"`
	// Operations is the per-chat operation log length
	Operations int `yaml:"operations"`
	// PairHistory is the per agent-pair message history length
	PairHistory int `yaml:"pair_history"`
	// ContextWindow is how many prior messages travel with a task
	ContextWindow int `yaml:"context_window"`
}

// NATSConfig configures the NATS bridge
type NATSConfig struct {
	// Enabled turns the bridge on
	Enabled bool `yaml:"enabled"`
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
	// SubjectPrefix is the first token of every subject
	SubjectPrefix string `yaml:"subject_prefix"`
	// Archive stores finished workflows in a JetStream KV bucket
	Archive bool `yaml:"archive"`
	// StoreDir is where the embedded server keeps JetStream data
	StoreDir string `yaml:"store_dir"`
}

// InboxConfig configures the mission file inbox
type InboxConfig struct {
	// Enabled turns the watcher on
	Enabled bool `yaml:"enabled"`
	// Dir is the watched directory
	Dir string `yaml:"dir"`
	// Patterns are doublestar globs relative to Dir
	Patterns []string `yaml:"patterns"`
	// Debounce is how long changes are collected before processing
	Debounce time.Duration `yaml:"debounce"`
}

// AgentsConfig configures the reference agents
type AgentsConfig struct {
	// ClarifyOnMissingContext makes the researcher ask before collecting a
	// question that has no context
	ClarifyOnMissingContext bool `yaml:"clarify_on_missing_context"`
	// FetchTimeout bounds each source fetch
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// MaxContentSize caps a fetched page in bytes
	MaxContentSize int64 `yaml:"max_content_size"`
	// UserAgent is sent with every fetch
	UserAgent string `yaml:"user_agent"`
	// AllowPrivate permits fetching private and loopback addresses
	AllowPrivate bool `yaml:"allow_private"`
	// MaxSources caps the sources read per question
	MaxSources int `yaml:"max_sources"`
	// OutputDir is where the writer saves deliverables (empty = don't save)
	OutputDir string `yaml:"output_dir"`
	// Formats are the deliverable formats to produce
	Formats []string `yaml:"formats"`
	// RulesFile holds planner clarification rules (empty = built-in rules)
	RulesFile string `yaml:"rules_file"`
	// RoutesFile maps question categories to collecting agents
	RoutesFile string `yaml:"routes_file"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			Keepalive:        30 * time.Second,
			SubscriberBuffer: 64,
			ShutdownTimeout:  10 * time.Second,
		},
		Limits: LimitsConfig{
			Comms:         100,
			Operations:    50,
			PairHistory:   20,
			ContextWindow: 10,
		},
		NATS: NATSConfig{
			Enabled:       false,
			Embedded:      true,
			SubjectPrefix: "legion",
		},
		Inbox: InboxConfig{
			Enabled:  false,
			Dir:      "missions",
			Patterns: []string{"**/*.mission.yaml", "**/*.mission.yml"},
			Debounce: 500 * time.Millisecond,
		},
		Agents: AgentsConfig{
			ClarifyOnMissingContext: false,
			FetchTimeout:            30 * time.Second,
			MaxContentSize:          5 << 20,
			UserAgent:               "legion-researcher/1.0",
			MaxSources:              5,
			Formats:                 []string{"report", "table", "slides"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.Keepalive <= 0 {
		return fmt.Errorf("server.keepalive must be positive")
	}
	if c.Limits.Comms <= 0 || c.Limits.Operations <= 0 || c.Limits.PairHistory <= 0 || c.Limits.ContextWindow <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	if c.NATS.Enabled && !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.embedded is false")
	}
	if c.NATS.SubjectPrefix == "" || strings.ContainsAny(c.NATS.SubjectPrefix, "*> \t") {
		return fmt.Errorf("nats.subject_prefix %q is not a valid subject prefix", c.NATS.SubjectPrefix)
	}
	if c.Inbox.Enabled && c.Inbox.Dir == "" {
		return fmt.Errorf("inbox.dir is required when the inbox is enabled")
	}
	if c.Agents.MaxContentSize <= 0 {
		return fmt.Errorf("agents.max_content_size must be positive")
	}
	for _, f := range c.Agents.Formats {
		switch f {
		case "report", "table", "slides":
		default:
			return fmt.Errorf("agents.formats: unknown format %q", f)
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", level)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// parseFile decodes a config file onto a zero Config, so Merge only sees
// the values the file sets.
func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
// Booleans can only be switched on by a merge.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	setString(&c.Server.Addr, other.Server.Addr)
	setDuration(&c.Server.Keepalive, other.Server.Keepalive)
	setInt(&c.Server.SubscriberBuffer, other.Server.SubscriberBuffer)
	setDuration(&c.Server.ShutdownTimeout, other.Server.ShutdownTimeout)

	// Limits
	setInt(&c.Limits.Comms, other.Limits.Comms)
	setInt(&c.Limits.Operations, other.Limits.Operations)
	setInt(&c.Limits.PairHistory, other.Limits.PairHistory)
	setInt(&c.Limits.ContextWindow, other.Limits.ContextWindow)

	// NATS
	c.NATS.Enabled = c.NATS.Enabled || other.NATS.Enabled
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	setString(&c.NATS.SubjectPrefix, other.NATS.SubjectPrefix)
	c.NATS.Archive = c.NATS.Archive || other.NATS.Archive
	setString(&c.NATS.StoreDir, other.NATS.StoreDir)

	// Inbox
	c.Inbox.Enabled = c.Inbox.Enabled || other.Inbox.Enabled
	setString(&c.Inbox.Dir, other.Inbox.Dir)
	if len(other.Inbox.Patterns) > 0 {
		c.Inbox.Patterns = other.Inbox.Patterns
	}
	setDuration(&c.Inbox.Debounce, other.Inbox.Debounce)

	// Agents
	c.Agents.ClarifyOnMissingContext = c.Agents.ClarifyOnMissingContext || other.Agents.ClarifyOnMissingContext
	setDuration(&c.Agents.FetchTimeout, other.Agents.FetchTimeout)
	if other.Agents.MaxContentSize != 0 {
		c.Agents.MaxContentSize = other.Agents.MaxContentSize
	}
	setString(&c.Agents.UserAgent, other.Agents.UserAgent)
	c.Agents.AllowPrivate = c.Agents.AllowPrivate || other.Agents.AllowPrivate
	setInt(&c.Agents.MaxSources, other.Agents.MaxSources)
	setString(&c.Agents.OutputDir, other.Agents.OutputDir)
	if len(other.Agents.Formats) > 0 {
		c.Agents.Formats = other.Agents.Formats
	}
	setString(&c.Agents.RulesFile, other.Agents.RulesFile)
	setString(&c.Agents.RoutesFile, other.Agents.RoutesFile)

	// Log
	setString(&c.Log.Level, other.Log.Level)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
