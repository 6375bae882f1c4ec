package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "legion.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/legion"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvFile is the dotenv file read from the project directory
	EnvFile = ".env"
	// EnvPrefix prefixes every environment override
	EnvPrefix = "LEGION_"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger

	// Dir is where the project config search starts (default: cwd)
	Dir string
	// Home replaces the user's home directory
	Home string
	// LookupEnv replaces os.LookupEnv
	LookupEnv func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, LookupEnv: os.LookupEnv}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/legion/config.yaml)
// 3. Project config (legion.yaml in current or parent directories), or the
// explicit path when one is given
// 4. .env next to the project config (or in the current directory)
// 5. LEGION_* environment variables
func (l *Loader) Load(explicit string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	if userConfigPath := l.userConfigPath(); userConfigPath != "" {
		if userConfig, err := parseFile(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", "path", userConfigPath)
			config.Merge(userConfig)
		} else if !os.IsNotExist(err) {
			l.logger.Warn("Failed to load user config", "path", userConfigPath, "error", err)
		}
	}

	// Load project config
	projectConfigPath := explicit
	if projectConfigPath == "" {
		projectConfigPath = l.findProjectConfig()
	}
	if projectConfigPath != "" {
		projectConfig, err := parseFile(projectConfigPath)
		if err != nil {
			if explicit != "" {
				return nil, fmt.Errorf("load config %s: %w", explicit, err)
			}
			l.logger.Warn("Failed to load project config", "path", projectConfigPath, "error", err)
		} else {
			l.logger.Debug("Loaded project config", "path", projectConfigPath)
			config.Merge(projectConfig)
		}
	} else {
		l.logger.Debug("No project config found")
	}

	// Environment
	env := l.dotenv(projectConfigPath)
	if err := applyEnv(config, func(key string) (string, bool) {
		if v, ok := l.LookupEnv(key); ok {
			return v, true
		}
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return nil, err
	}

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("no home directory")
	}

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", "path", userConfigPath)
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home := l.Home
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

func (l *Loader) startDir() string {
	if l.Dir != "" {
		return l.Dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}

// findProjectConfig searches for legion.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	dir := l.startDir()
	if dir == "" {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}

// dotenv reads the .env file next to the project config, or in the start
// directory when there is none. The process environment is not modified.
func (l *Loader) dotenv(projectConfigPath string) map[string]string {
	dir := l.startDir()
	if projectConfigPath != "" {
		dir = filepath.Dir(projectConfigPath)
	}
	path := filepath.Join(dir, EnvFile)
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("Failed to read env file", "path", path, "error", err)
		}
		return nil
	}
	l.logger.Debug("Loaded env file", "path", path, "vars", len(env))
	return env
}

// applyEnv applies LEGION_* overrides.
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}
	duration := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("NATS_SUBJECT_PREFIX", &c.NATS.SubjectPrefix)
	str("INBOX_DIR", &c.Inbox.Dir)
	str("OUTPUT_DIR", &c.Agents.OutputDir)
	str("RULES_FILE", &c.Agents.RulesFile)
	str("ROUTES_FILE", &c.Agents.RoutesFile)
	str("USER_AGENT", &c.Agents.UserAgent)
	if v, ok := lookup(EnvPrefix + "NATS_URL"); ok && v != "" {
		c.NATS.URL = v
		c.NATS.Embedded = false
	}
	if v, ok := lookup(EnvPrefix + "FORMATS"); ok && v != "" {
		c.Agents.Formats = splitList(v)
	}

	for _, set := range []func() error{
		func() error { return boolean("NATS_ENABLED", &c.NATS.Enabled) },
		func() error { return boolean("NATS_ARCHIVE", &c.NATS.Archive) },
		func() error { return boolean("INBOX_ENABLED", &c.Inbox.Enabled) },
		func() error { return boolean("CLARIFY_ON_MISSING_CONTEXT", &c.Agents.ClarifyOnMissingContext) },
		func() error { return boolean("ALLOW_PRIVATE", &c.Agents.AllowPrivate) },
		func() error { return duration("KEEPALIVE", &c.Server.Keepalive) },
		func() error { return duration("FETCH_TIMEOUT", &c.Agents.FetchTimeout) },
	} {
		if err := set(); err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
