// Package codebridge embeds the session memory service: a per-project
// frame store under .codebridge/ exposed as MCP tools.
package codebridge

import (
	"context"
	"log/slog"

	"github.com/localrivet/codebridge/internal/config"
	"github.com/localrivet/codebridge/internal/errortypes"
	"github.com/localrivet/codebridge/internal/server"
	"github.com/localrivet/codebridge/internal/sessionstore"
	"github.com/localrivet/codebridge/internal/telemetry"
)

// Config represents the configuration for the codebridge service.
type Config = config.Config

// Server represents the codebridge service.
type Server struct {
	config     *config.Config
	store      *sessionstore.FrameStore
	toolServer server.SessionToolServer
	logger     *slog.Logger
}

// ServerOptions defines the options for creating a new Server.
type ServerOptions struct {
	Config     *Config      // Pre-filled config. If nil, ConfigPath is used.
	ConfigPath string       // Path to config file. Used if Config is nil. If both are empty, DefaultConfig() is used.
	Logger     *slog.Logger // External logger. If nil, slog.Default() is used.
}

// NewServer creates a new codebridge Server with the given options.
// If opts.Config is provided, it will be used directly.
// Otherwise, if opts.ConfigPath is provided, configuration will be loaded from that path.
// If neither is provided, DefaultConfig() will be used.
func NewServer(opts ServerOptions) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cfg *Config
	var err error

	if opts.Config != nil {
		cfg = opts.Config
		logger.Info("Using provided Config object for server initialization")
	} else if opts.ConfigPath != "" {
		logger.Info("Loading configuration for server initialization", "path", opts.ConfigPath)
		cfg, err = config.LoadConfigWithPath(opts.ConfigPath)
		if err != nil {
			logger.Error("Failed to load configuration from path", "path", opts.ConfigPath, "error", err)
			return nil, err
		}
	} else {
		logger.Warn("No Config object or ConfigPath provided, using default configuration for server initialization")
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := CreateStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing session tool server component")
	toolServer := server.NewSessionToolServer(store, server.WithLogger(logger.With("component", "server")))
	if err := toolServer.Initialize(); err != nil {
		logger.Error("Failed to initialize MCP session tool server component", "error", err)
		store.Close()
		return nil, errortypes.ConfigError(err, "Failed to initialize MCP session tool server component")
	}

	logger.Info("codebridge server successfully initialized", "store", store.Path())
	return &Server{
		config:     cfg,
		store:      store,
		toolServer: toolServer,
		logger:     logger,
	}, nil
}

// DefaultConfig returns the default configuration for the codebridge service.
func DefaultConfig() *Config {
	return config.NewConfig()
}

// SaveConfig writes cfg to path as JSON.
func SaveConfig(cfg *Config, path string) error {
	if err := cfg.SaveToFile(path); err != nil {
		return errortypes.ConfigError(err, "failed to save configuration").WithField("path", path)
	}
	return nil
}

// CreateStore opens the session store described by cfg without creating a
// server. Callers own the returned store and must Close it.
func CreateStore(cfg *Config, logger *slog.Logger) (*sessionstore.FrameStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Opening session store", "project_root", cfg.Store.ProjectRoot)
	store, err := sessionstore.OpenOrCreate(context.Background(), cfg.Store.ProjectRoot,
		sessionstore.WithLogger(logger.With("component", "sessionstore")),
		sessionstore.WithSearchLimits(cfg.Search.TopK, cfg.Search.SnippetChars),
		sessionstore.WithIdentity(sessionstore.Identity{
			TenantID:  cfg.Search.TenantID,
			SubjectID: cfg.Search.SubjectID,
		}),
	)
	if err != nil {
		logger.Error("Failed to open session store", "project_root", cfg.Store.ProjectRoot,
			"stage", sessionstore.StageOf(err), "error", err)
		return nil, err
	}
	return store, nil
}

// Start serves MCP tool calls over stdio. It blocks until the client
// disconnects.
func (s *Server) Start() error {
	s.logger.Info("Starting codebridge service")
	return s.toolServer.Start()
}

// Stop stops the tool server and closes the store.
func (s *Server) Stop() error {
	s.logger.Info("Stopping codebridge service")
	if err := s.toolServer.Stop(); err != nil {
		s.logger.Error("Error stopping tool server", "error", err)
		return err
	}

	s.logger.Info("Closing store")
	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close store", "error", err)
		return err
	}

	s.logger.Info("codebridge service stopped")
	return nil
}

// AppendFrame records content as a new frame of sessionID.
func (s *Server) AppendFrame(ctx context.Context, content, sessionID string) error {
	return s.store.AppendFrame(ctx, content, sessionID)
}

// Search returns the text of frames matching query.
func (s *Server) Search(ctx context.Context, query string) ([]string, error) {
	return s.store.SearchText(ctx, query)
}

// GetSessionFrames returns the text of the frames recorded for sessionID.
func (s *Server) GetSessionFrames(ctx context.Context, sessionID string) ([]string, error) {
	return s.store.GetSessionFrames(ctx, sessionID)
}

// GetStore returns the session store used by the server.
func (s *Server) GetStore() sessionstore.SessionStore {
	return s.store
}

// GetConfig returns the configuration the server was built from.
func (s *Server) GetConfig() *Config {
	return s.config
}

// Metrics returns the store's operation metrics.
func (s *Server) Metrics() *telemetry.MetricsCollector {
	return s.store.Metrics()
}
