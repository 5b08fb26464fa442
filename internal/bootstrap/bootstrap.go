// Package bootstrap opens the configured collaborators and builds the
// coordinator shared by the server, the CLI and the worker.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	temporalclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/efebarandurmaz/vectordb/internal/config"
	"github.com/efebarandurmaz/vectordb/internal/coordinator"
	"github.com/efebarandurmaz/vectordb/internal/integrity"
	"github.com/efebarandurmaz/vectordb/internal/observability"
	"github.com/efebarandurmaz/vectordb/internal/retry"
	"github.com/efebarandurmaz/vectordb/internal/secrets"
	"github.com/efebarandurmaz/vectordb/internal/server"
	"github.com/efebarandurmaz/vectordb/internal/store"
	"github.com/efebarandurmaz/vectordb/internal/store/memory"
	"github.com/efebarandurmaz/vectordb/internal/store/neo4j"
	"github.com/efebarandurmaz/vectordb/internal/store/postgres"
	"github.com/efebarandurmaz/vectordb/internal/store/qdrant"
)

// Stores holds the opened metadata and index stores.
type Stores struct {
	Meta  store.MetadataStore
	Index store.IndexStore

	MetaBackend  string
	IndexBackend string
}

// OpenStores connects both collaborators named by cfg. The metadata password
// is taken from the secrets manager when one is configured there, otherwise
// from cfg. Each connection attempt is audited.
func OpenStores(ctx context.Context, cfg *config.Config, sm *secrets.Manager, logger *slog.Logger,
	audit *observability.AuditLogger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}
	password := cfg.Metadata.Password
	if sm != nil {
		password = sm.GetOrDefault(ctx, secrets.MetadataPassword, password)
	}

	meta, err := openMetadata(ctx, cfg, password, logger)
	audit.LogStoreConnect("metadata", cfg.Metadata.Backend, err)
	if err != nil {
		return nil, err
	}

	index, err := openIndex(ctx, cfg, logger)
	audit.LogStoreConnect("index", cfg.Index.Backend, err)
	if err != nil {
		meta.Close()
		return nil, err
	}

	return &Stores{
		Meta:         meta,
		Index:        index,
		MetaBackend:  cfg.Metadata.Backend,
		IndexBackend: cfg.Index.Backend,
	}, nil
}

func openMetadata(ctx context.Context, cfg *config.Config, password string, logger *slog.Logger) (store.MetadataStore, error) {
	mc := cfg.Metadata
	switch mc.Backend {
	case "postgres":
		mc.Password = password
		return postgres.Open(ctx, postgres.Config{
			DSN:          mc.PostgresDSN(),
			MaxOpenConns: mc.MaxOpenConns,
			Retry:        mc.Retry.Policy(),
			ConnectRetry: retry.ConnectPolicy(),
		}, logger)
	case "neo4j":
		return neo4j.Open(ctx, neo4j.Config{
			URI:          mc.Neo4jURI,
			Username:     mc.User,
			Password:     password,
			Database:     mc.Database,
			Retry:        mc.Retry.Policy(),
			ConnectRetry: retry.ConnectPolicy(),
		}, logger)
	case "memory":
		logger.Warn("using in-memory metadata store")
		return memory.NewMetadata(), nil
	default:
		return nil, fmt.Errorf("unknown metadata backend: %s", mc.Backend)
	}
}

func openIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.IndexStore, error) {
	ic := cfg.Index
	switch ic.Backend {
	case "qdrant":
		return qdrant.Open(ctx, qdrant.Config{
			Host:         ic.Host,
			Port:         ic.Port,
			Retry:        ic.Retry.Policy(),
			ConnectRetry: retry.ConnectPolicy(),
		}, logger)
	case "memory":
		logger.Warn("using in-memory index store", "flush_interval", ic.FlushInterval)
		return memory.NewIndex(memory.WithAutoFlush(ic.FlushInterval)), nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", ic.Backend)
	}
}

// Close closes both stores.
func (s *Stores) Close() error {
	return errors.Join(s.Index.Close(), s.Meta.Close())
}

// RegisterHealth adds a health check per store.
func (s *Stores) RegisterHealth(h *server.HealthServer) {
	h.RegisterCheck("metadata", server.StoreHealthChecker(s.MetaBackend, s.Meta.Ping))
	h.RegisterCheck("index", server.StoreHealthChecker(s.IndexBackend, s.Index.Ping))
}

// RegisterShutdown closes the stores after everything that uses them.
func (s *Stores) RegisterShutdown(sh *server.ShutdownHandler) {
	sh.Register(server.StoreShutdownHook("index", s.Index.Close))
	sh.Register(server.StoreShutdownHook("metadata", s.Meta.Close))
}

// NewCoordinator builds a coordinator over the stores using the coordinator
// section of cfg.
func NewCoordinator(cfg *config.Config, s *Stores, logger *slog.Logger,
	metrics *observability.VectorDBMetrics, audit *observability.AuditLogger) *coordinator.Coordinator {
	// A memory index with no auto-flush never makes inserts searchable.
	flush := cfg.Coordinator.FlushAfterInsert || (s.IndexBackend == "memory" && cfg.Index.FlushInterval <= 0)
	return coordinator.New(s.Meta, s.Index,
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(metrics),
		coordinator.WithAudit(audit),
		coordinator.WithFlushAfterInsert(flush),
		coordinator.WithResolveConcurrency(cfg.Coordinator.ResolveConcurrency),
		coordinator.WithMaxK(cfg.Coordinator.MaxK),
	)
}

// NewChecker builds the integrity checker over the stores.
func NewChecker(s *Stores, logger *slog.Logger, metrics *observability.VectorDBMetrics,
	audit *observability.AuditLogger) *integrity.Checker {
	return integrity.NewChecker(s.Meta, s.Index, logger, metrics, audit)
}

// NewMetrics builds the process metrics. Each binary calls it once and
// hands the result to every component that records or serves metrics.
func NewMetrics() *observability.VectorDBMetrics {
	return observability.NewVectorDBMetrics()
}

// NewSecrets builds the secrets manager from the secrets section.
func NewSecrets(cfg *config.Config) (*secrets.Manager, error) {
	return secrets.NewManager(&secrets.Config{
		Provider:  cfg.Secrets.Provider,
		FilePath:  cfg.Secrets.File,
		EnvPrefix: secrets.DefaultEnvPrefix,
	})
}

// NewAudit builds the audit logger; a disabled logger discards events.
func NewAudit(cfg *config.Config, sessionID string) (*observability.AuditLogger, error) {
	return observability.NewAuditLogger(&observability.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		OutputPath: cfg.Audit.Output,
		SessionID:  sessionID,
	})
}

// NewTracing initialises OpenTelemetry from the tracing section.
func NewTracing(ctx context.Context, cfg *config.Config, service, version string) (*observability.TracerProvider, error) {
	return observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    service,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
}

// DialTemporal connects to the configured Temporal frontend. An API key is
// sent when the secrets manager holds one.
func DialTemporal(ctx context.Context, cfg *config.Config, sm *secrets.Manager, logger *slog.Logger) (temporalclient.Client, error) {
	opts := temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	}
	if logger != nil {
		opts.Logger = temporallog.NewStructuredLogger(logger)
	}
	if sm != nil {
		if token, err := sm.Get(ctx, secrets.TemporalToken); err == nil {
			opts.Credentials = temporalclient.NewAPIKeyStaticCredentials(token)
		}
	}
	c, err := temporalclient.DialContext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	return c, nil
}
