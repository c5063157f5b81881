// ABOUTME: Configuration loading and parsing for orchat-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultOpenRouterURL is used when openrouter.base_url is not set.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// DefaultOpenRouterTimeout is used when openrouter.timeout is not set.
const DefaultOpenRouterTimeout = 60 * time.Second

// minJWTSecretLen is the shortest accepted HS256 secret.
const minJWTSecretLen = 32

// Config represents the complete orchat-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Models     ModelsConfig     `yaml:"models"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// OpenRouterConfig holds the LLM provider settings
type OpenRouterConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	RankURL  string `yaml:"rank_url"`  // sent as HTTP-Referer for openrouter.ai rankings
	RankName string `yaml:"rank_name"` // sent as X-Title

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// ModelsConfig points at the model catalog and overrides parts of it
type ModelsConfig struct {
	CatalogFile string `yaml:"catalog_file"`
	Default     string `yaml:"default"`
	// Public, when present (even empty), replaces the catalog's public list.
	Public *[]string `yaml:"public"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the path to the gateway config file.
// Priority: ORCHAT_CONFIG env var > XDG_CONFIG_HOME/orchat/gateway.yaml > ~/.config/orchat/gateway.yaml
func DefaultPath() string {
	if envPath := os.Getenv("ORCHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "orchat", "gateway.yaml")
}

// DefaultDataPath returns the orchat data directory.
// Priority: XDG_DATA_HOME/orchat > ~/.local/share/orchat
func DefaultDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "orchat")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.OpenRouter.BaseURL == "" {
		cfg.OpenRouter.BaseURL = DefaultOpenRouterURL
	}
	if cfg.OpenRouter.Timeout == 0 {
		cfg.OpenRouter.Timeout = DefaultOpenRouterTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLen)
	}

	if c.OpenRouter.APIKey == "" {
		return fmt.Errorf("openrouter.api_key is required")
	}

	if c.OpenRouter.Timeout < 0 {
		return fmt.Errorf("openrouter.timeout must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.OpenRouter.TimeoutRaw != "" {
		cfg.OpenRouter.Timeout, err = time.ParseDuration(cfg.OpenRouter.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing openrouter.timeout %q: %w", cfg.OpenRouter.TimeoutRaw, err)
		}
	}

	return nil
}
