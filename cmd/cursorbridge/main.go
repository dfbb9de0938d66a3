// Command cursorbridge runs cursor-agent prompts and re-emits their output as
// OpenAI streaming chunks or ACP session updates.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bazelment/cursorbridge/bridge"
	"github.com/bazelment/cursorbridge/config"
	"github.com/bazelment/cursorbridge/metrics"
	"github.com/bazelment/cursorbridge/retry"
	"github.com/bazelment/cursorbridge/session"
	"github.com/bazelment/cursorbridge/storage"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "cursorbridge",
	Short: "Bridge cursor-agent output to OpenAI and ACP streams",
	Long: `cursorbridge runs cursor-agent in stream-json mode, one subprocess per
prompt, and translates its NDJSON output into OpenAI chat completion chunks
or ACP session updates on stdout. Sessions persist between invocations so
later prompts resume the same agent conversation.

Environment:
  CURSORBRIDGE_CLI_PATH        cursor-agent executable
  CURSORBRIDGE_MODEL           default model
  CURSORBRIDGE_STORE           session store: file, sqlite or memory
  CURSORBRIDGE_STORE_DIR       session store directory
  CURSORBRIDGE_RETENTION_DAYS  idle days before sessions are cleaned up`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.cursorbridge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger creates a structured logger with the configured verbosity.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads .env and the config file.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	return config.Load(configPath)
}

// app is everything a subcommand needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	sessions *session.Manager
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger()
	slog.SetDefault(logger)

	store, err := storage.Open(ctx, cfg.Sessions.Store, cfg.Sessions.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	sessions := session.NewManager(store, session.WithLogger(logger))
	if err := sessions.Initialize(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store, sessions: sessions}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) newBridge() (*bridge.Bridge, error) {
	return bridge.New(bridge.Config{
		Sessions:   a.sessions,
		Metrics:    metrics.NewTracker(nil),
		Retry:      retry.New(a.cfg.RetryPolicy(), retry.WithLogger(a.logger)),
		Logger:     a.logger,
		Env:        a.cfg.Env,
		CLIPath:    a.cfg.CLIPath,
		Model:      a.cfg.Model,
		ExtraArgs:  a.cfg.ExtraArgs,
		KillGrace:  a.cfg.Turn.KillGrace,
		CloseGrace: a.cfg.Turn.CloseGrace,
	})
}
