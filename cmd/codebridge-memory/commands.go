package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/localrivet/codebridge"
	"github.com/localrivet/codebridge/internal/config"
	"github.com/localrivet/codebridge/internal/logger"
)

type options struct {
	configPath string
	root       string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "codebridge-memory",
		Short: "Session memory MCP server backed by a per-project frame store",
		Long: `codebridge-memory keeps conversation messages in <project>/.codebridge/sessions.mv2
and serves them to MCP clients over stdio.

Without a subcommand it runs the MCP server. Logs go to stderr; stdout is
reserved for the MCP transport.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigFilename, "Path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&opts.root, "root", "", "Project root holding .codebridge/ (overrides store.project_root)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the MCP server over stdio",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "append <session_id> <content...>",
			Short: "Append a frame to a session",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, opts, func(ctx context.Context, srv *codebridge.Server) error {
					return srv.AppendFrame(ctx, strings.Join(args[1:], " "), args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "search <query...>",
			Short: "Print frames matching a free-text query",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, opts, func(ctx context.Context, srv *codebridge.Server) error {
					results, err := srv.Search(ctx, strings.Join(args, " "))
					if err != nil {
						return err
					}
					return printResults(cmd.OutOrStdout(), results)
				})
			},
		},
		&cobra.Command{
			Use:   "session <session_id>",
			Short: "Print the frames recorded for a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, opts, func(ctx context.Context, srv *codebridge.Server) error {
					results, err := srv.GetSessionFrames(ctx, args[0])
					if err != nil {
						return err
					}
					return printResults(cmd.OutOrStdout(), results)
				})
			},
		},
		&cobra.Command{
			Use:   "init-config",
			Short: "Write a default config file if none exists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runInitConfig(cmd.OutOrStdout(), opts)
			},
		},
		&cobra.Command{
			Use:   "show-config",
			Short: "Print the effective configuration as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			},
		},
	)

	return rootCmd
}

// setupLogging configures and returns the application logger
func setupLogging(out io.Writer, cfg *config.Config) *logger.Logger {
	lc := logger.DefaultConfig()
	lc.Output = out

	if cfg != nil {
		lc.Level = logger.ParseLevel(cfg.Logging.Level)
		lc.Format = logger.ParseFormat(cfg.Logging.Format)
	}
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		lc.Level = logger.ParseLevel(levelStr)
	}

	appLogger := logger.New(lc)
	logger.SetDefaultLogger(appLogger)
	return appLogger
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfigWithPath(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.root != "" {
		cfg.Store.ProjectRoot = opts.root
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newServer(cmd *cobra.Command, opts *options) (*codebridge.Server, *logger.Logger, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		setupLogging(cmd.ErrOrStderr(), nil).LogError(err)
		return nil, nil, err
	}

	appLogger := setupLogging(cmd.ErrOrStderr(), cfg)
	appLogger.Debug("Using configuration %s", cfg.GetConfigPath())
	srv, err := codebridge.NewServer(codebridge.ServerOptions{
		Config: cfg,
		Logger: appLogger.WithContext("codebridge").Slog(),
	})
	if err != nil {
		appLogger.LogError(err)
		return nil, nil, err
	}
	return srv, appLogger, nil
}

func runServe(cmd *cobra.Command, opts *options) error {
	srv, appLogger, err := newServer(cmd, opts)
	if err != nil {
		return err
	}
	appLogger.Info("codebridge MCP server starting, store %s", srv.GetStore().Path())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		appLogger.Info("Received shutdown signal, terminating gracefully...")
	}

	appLogger.Debug("%s", srv.Metrics().GetReport())
	if err := srv.Stop(); err != nil {
		appLogger.LogError(err)
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		appLogger.LogError(runErr)
		return runErr
	}
	appLogger.Info("Shutdown complete")
	return nil
}

func withStore(cmd *cobra.Command, opts *options, fn func(context.Context, *codebridge.Server) error) error {
	srv, appLogger, err := newServer(cmd, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, srv)
	if runErr != nil {
		appLogger.LogError(runErr)
	}
	return errors.Join(runErr, srv.Stop())
}

func printResults(w io.Writer, results []string) error {
	for i, r := range results {
		if _, err := fmt.Fprintf(w, "%d. %s\n", i+1, r); err != nil {
			return err
		}
	}
	return nil
}

func runInitConfig(w io.Writer, opts *options) error {
	if _, err := os.Stat(opts.configPath); err == nil {
		fmt.Fprintf(w, "%s already exists, leaving it unchanged\n", opts.configPath)
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", opts.configPath, err)
	}

	cfg := codebridge.DefaultConfig()
	if opts.root != "" {
		cfg.Store.ProjectRoot = opts.root
	}
	if err := codebridge.SaveConfig(cfg, opts.configPath); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s\n", opts.configPath)
	return nil
}
