package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/vectordb/internal/api"
	"github.com/efebarandurmaz/vectordb/internal/bootstrap"
	"github.com/efebarandurmaz/vectordb/internal/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, configPath, addr string) error {
	e, err := openEnv(ctx, configPath, "serve-"+uuid.NewString())
	if err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger
	if addr != "" {
		cfg.Server.Addr = addr
	}

	tp, err := bootstrap.NewTracing(ctx, cfg, "vectordb", version)
	if err != nil {
		e.Close()
		return fmt.Errorf("tracing: %w", err)
	}

	metrics := bootstrap.NewMetrics()
	coord := bootstrap.NewCoordinator(cfg, e.stores, logger, metrics, e.audit)
	checker := bootstrap.NewChecker(e.stores, logger, metrics, e.audit)

	health := server.NewHealthServer(&server.HealthConfig{Version: version})
	e.stores.RegisterHealth(health)

	srv := api.NewServer(&api.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, coord, checker, health, metrics, logger)

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{
		Timeout: cfg.Server.ShutdownTimeout,
		Logger:  logger,
	})
	shutdown.RegisterHook("readiness", server.PriorityDrain, func(context.Context) error {
		health.SetReady(false)
		return nil
	})
	shutdown.Register(server.HTTPServerShutdownHook("api", srv.Stop))
	shutdown.Register(server.TracingShutdownHook(tp.Shutdown))
	e.stores.RegisterShutdown(shutdown)
	shutdown.Register(server.AuditLoggerShutdownHook(e.audit.Close))
	shutdown.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	// Give the listener a moment to fail on a bad address before
	// reporting ready.
	select {
	case err := <-errCh:
		shutdown.Shutdown()
		shutdown.Wait()
		return err
	case <-time.After(100 * time.Millisecond):
	}
	health.SetReady(true)

	select {
	case err := <-errCh:
		shutdown.Shutdown()
		shutdown.Wait()
		return err
	case <-shutdown.Done():
	}
	if err := shutdown.Err(); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return <-errCh
}
