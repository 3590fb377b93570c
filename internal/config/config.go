package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/localrivet/configurator"

	"github.com/localrivet/codebridge/internal/errortypes"
)

// Config represents the codebridge configuration
type Config struct {
	// Store contains storage-related configuration.
	Store struct {
		// ProjectRoot is the directory the .codebridge store lives under.
		ProjectRoot string `json:"project_root" env:"PROJECT_ROOT" validate:"required"`
	} `json:"store"`

	// Search contains query defaults.
	Search struct {
		// TopK caps the number of hits returned per query.
		TopK int `json:"top_k" env:"SEARCH_TOP_K" validate:"min:1"`

		// SnippetChars is the snippet length requested from the engine.
		SnippetChars int `json:"snippet_chars" env:"SEARCH_SNIPPET_CHARS" validate:"min:1"`

		// SubjectID is the identity queries are audited as.
		SubjectID string `json:"subject_id" env:"SEARCH_SUBJECT_ID"`

		// TenantID optionally scopes queries to one tenant's frames.
		TenantID string `json:"tenant_id" env:"SEARCH_TENANT_ID"`
	} `json:"search"`

	// Logging contains logging-related configuration.
	Logging struct {
		// Level is the minimum log level to display ("debug", "info", "warn", "error").
		Level string `json:"level" env:"LOG_LEVEL" validate:"required"`

		// Format is the log format to use ("text", "json").
		Format string `json:"format" env:"LOG_FORMAT"`
	} `json:"logging"`

	// Internal state (not saved to config file)
	configPath string       `json:"-"`
	mutex      sync.RWMutex `json:"-"`
}

// Default configuration values
const (
	DefaultConfigFilename = ".codebridgeconfig"
	DefaultProjectRoot    = "."
	DefaultTopK           = 10
	DefaultSnippetChars   = 500
	DefaultSubjectID      = "anonymous"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"

	envPrefix = "CODEBRIDGE"
)

// NewConfig creates a new Config instance with default values
func NewConfig() *Config {
	config := &Config{}
	config.Store.ProjectRoot = DefaultProjectRoot
	config.Search.TopK = DefaultTopK
	config.Search.SnippetChars = DefaultSnippetChars
	config.Search.SubjectID = DefaultSubjectID
	config.Logging.Level = DefaultLogLevel
	config.Logging.Format = DefaultLogFormat
	return config
}

// LoadConfigWithPath loads the configuration from a specific path. A missing
// file is not an error; defaults and CODEBRIDGE_* variables still apply.
func LoadConfigWithPath(configPath string) (*Config, error) {
	stdLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := NewConfig()

	if configPath == DefaultConfigFilename {
		foundPath, err := configurator.FindConfigFile(configPath)
		if err == nil {
			configPath = foundPath
			stdLogger.Debug("Found config file at " + foundPath)
		}
	}

	config := configurator.New(stdLogger).
		WithProvider(configurator.NewDefaultProvider())

	if _, err := os.Stat(configPath); err == nil {
		stdLogger.Info("Loading configuration", "path", configPath)
		config = config.WithProvider(configurator.NewFileProvider(configPath))
	} else {
		stdLogger.Info("Config file not found, using default configuration", "path", configPath)
	}

	config = config.
		WithProvider(configurator.NewEnvProvider(envPrefix)).
		WithValidator(configurator.NewDefaultValidator())

	if err := config.Load(context.Background(), cfg); err != nil {
		return nil, errortypes.ConfigError(err, "failed to load configuration").
			WithField("path", configPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.configPath = configPath

	return cfg, nil
}

// Validate checks values the struct tags cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.ProjectRoot) == "" {
		return errortypes.ConfigError(fmt.Errorf("store.project_root is empty"), "invalid configuration")
	}
	if c.Search.TopK < 1 {
		return errortypes.ConfigError(fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK), "invalid configuration")
	}
	if c.Search.SnippetChars < 1 {
		return errortypes.ConfigError(fmt.Errorf("search.snippet_chars must be positive, got %d", c.Search.SnippetChars), "invalid configuration")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return errortypes.ConfigError(fmt.Errorf("unknown logging.format %q", c.Logging.Format), "invalid configuration")
	}
	return nil
}

// SaveToFile saves the configuration to the specified file
func (c *Config) SaveToFile(path string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := configurator.SaveToFile(c, path, configurator.FormatJSON); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	c.configPath = path

	return nil
}

// GetConfigPath returns the path of the currently loaded configuration file
func (c *Config) GetConfigPath() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.configPath
}
