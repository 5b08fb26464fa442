package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/vectordb/internal/bootstrap"
	"github.com/efebarandurmaz/vectordb/internal/config"
	"github.com/efebarandurmaz/vectordb/internal/observability"
	"github.com/efebarandurmaz/vectordb/internal/server"
	temporalmod "github.com/efebarandurmaz/vectordb/internal/temporal"
)

var version = "dev"

func main() {
	var (
		configPath string
		healthAddr string
	)
	cmd := &cobra.Command{
		Use:           "vectordb-worker",
		Short:         "Temporal worker running the periodic integrity check",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, healthAddr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Config file path (optional)")
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "Serve /healthz, /readyz and /livez on this address")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, healthAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	slog.SetDefault(logger)

	audit, err := bootstrap.NewAudit(cfg, "worker-"+uuid.NewString())
	if err != nil {
		return err
	}
	sm, err := bootstrap.NewSecrets(cfg)
	if err != nil {
		audit.Close()
		return err
	}
	stores, err := bootstrap.OpenStores(ctx, cfg, sm, logger, audit)
	if err != nil {
		audit.Close()
		return err
	}

	tp, err := bootstrap.NewTracing(ctx, cfg, "vectordb-worker", version)
	if err != nil {
		stores.Close()
		audit.Close()
		return fmt.Errorf("tracing: %w", err)
	}

	c, err := bootstrap.DialTemporal(ctx, cfg, sm, logger)
	if err != nil {
		stores.Close()
		audit.Close()
		return err
	}

	acts := &temporalmod.Activities{
		Checker: bootstrap.NewChecker(stores, logger, bootstrap.NewMetrics(), audit),
		Audit:   audit,
	}
	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue, acts)
	if err != nil {
		c.Close()
		stores.Close()
		audit.Close()
		return err
	}
	logger.Info("worker started", "task_queue", cfg.Temporal.TaskQueue)

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{
		Timeout: cfg.Server.ShutdownTimeout,
		Logger:  logger,
	})
	shutdown.Register(server.TemporalWorkerShutdownHook(w.Stop))
	shutdown.RegisterHook("temporal-client", server.PriorityWorkers, func(context.Context) error {
		c.Close()
		return nil
	})
	shutdown.Register(server.TracingShutdownHook(tp.Shutdown))
	stores.RegisterShutdown(shutdown)
	shutdown.Register(server.AuditLoggerShutdownHook(audit.Close))

	if healthAddr != "" {
		health := server.NewHealthServer(&server.HealthConfig{Version: version})
		stores.RegisterHealth(health)
		health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
			_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
			return err
		}))
		hs := &http.Server{Addr: healthAddr, Handler: health.Handler(), ReadHeaderTimeout: 5 * time.Second}
		shutdown.Register(server.HTTPServerShutdownHook("health", hs.Shutdown))
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server failed", "error", err)
			}
		}()
		health.SetReady(true)
	}

	if cron := cfg.Temporal.IntegrityCron; cron != "" {
		wr, err := temporalmod.ScheduleIntegrityCheck(ctx, c, cfg.Temporal.TaskQueue, cron)
		if err != nil {
			logger.Error("scheduling integrity check failed", "error", err)
		} else {
			logger.Info("integrity check scheduled", "cron", cron, "workflow_id", wr.GetID(), "run_id", wr.GetRunID())
		}
	}

	shutdown.Start()
	shutdown.Wait()
	logger.Info("worker stopped")
	return shutdown.Err()
}
