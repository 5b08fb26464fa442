package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/vectordb/internal/bootstrap"
	"github.com/efebarandurmaz/vectordb/internal/config"
	"github.com/efebarandurmaz/vectordb/internal/observability"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "vectordb",
		Short:         "Deduplicating vector lookup service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (optional)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vectordb %s (commit %s, %s)\n", version, commit, runtime.Version())
		},
	}

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newCheckCmd(&configPath),
		newCollectionsCmd(&configPath),
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is what every command needs after loading configuration.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	audit  *observability.AuditLogger
	stores *bootstrap.Stores
}

// openEnv loads configuration and connects both stores.
func openEnv(ctx context.Context, configPath, session string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	slog.SetDefault(logger)

	audit, err := bootstrap.NewAudit(cfg, session)
	if err != nil {
		return nil, err
	}
	sm, err := bootstrap.NewSecrets(cfg)
	if err != nil {
		audit.Close()
		return nil, err
	}
	stores, err := bootstrap.OpenStores(ctx, cfg, sm, logger, audit)
	if err != nil {
		audit.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, audit: audit, stores: stores}, nil
}

func (e *env) Close() error {
	err := e.stores.Close()
	e.audit.Close()
	return err
}
