package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/efebarandurmaz/vectordb/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. VECTORDB_INDEX_HOST.
const EnvPrefix = "VECTORDB"

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Metadata    MetadataConfig    `mapstructure:"metadata"`
	Index       IndexConfig       `mapstructure:"index"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Temporal    TemporalConfig    `mapstructure:"temporal"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RetryConfig is the per-store retry budget.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// Policy converts the budget for the retry package.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: r.MaxAttempts, Delay: r.Delay}
}

type MetadataConfig struct {
	// Backend is postgres, neo4j or memory.
	Backend      string      `mapstructure:"backend"`
	DSN          string      `mapstructure:"dsn"`
	Host         string      `mapstructure:"host"`
	Port         int         `mapstructure:"port"`
	User         string      `mapstructure:"user"`
	Password     string      `mapstructure:"password"`
	Database     string      `mapstructure:"database"`
	SSLMode      string      `mapstructure:"sslmode"`
	MaxOpenConns int         `mapstructure:"max_open_conns"`
	Neo4jURI     string      `mapstructure:"neo4j_uri"`
	Retry        RetryConfig `mapstructure:"retry"`
}

// PostgresDSN returns DSN when set, otherwise a URL built from the discrete
// fields.
func (m MetadataConfig) PostgresDSN() string {
	if m.DSN != "" {
		return m.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   m.Host + ":" + strconv.Itoa(m.Port),
		Path:   "/" + m.Database,
	}
	if m.Password != "" {
		u.User = url.UserPassword(m.User, m.Password)
	} else if m.User != "" {
		u.User = url.User(m.User)
	}
	if m.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(m.SSLMode)
	}
	return u.String()
}

type IndexConfig struct {
	// Backend is qdrant or memory.
	Backend       string        `mapstructure:"backend"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Retry         RetryConfig   `mapstructure:"retry"`
}

type CoordinatorConfig struct {
	FlushAfterInsert   bool `mapstructure:"flush_after_insert"`
	ResolveConcurrency int  `mapstructure:"resolve_concurrency"`
	MaxK               int  `mapstructure:"max_k"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
	// IntegrityCron schedules the periodic consistency check; empty disables it.
	IntegrityCron string `mapstructure:"integrity_cron"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Output  string `mapstructure:"output"`
}

type SecretsConfig struct {
	Provider string `mapstructure:"provider"`
	File     string `mapstructure:"file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var (
	metadataBackends = []string{"postgres", "neo4j", "memory"}
	indexBackends    = []string{"qdrant", "memory"}
)

// setDefaults registers every key; AutomaticEnv only reaches keys viper
// already knows when unmarshalling.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("metadata.backend", "postgres")
	v.SetDefault("metadata.dsn", "")
	v.SetDefault("metadata.password", "")
	v.SetDefault("metadata.host", "localhost")
	v.SetDefault("metadata.port", 5432)
	v.SetDefault("metadata.user", "postgres")
	v.SetDefault("metadata.database", "vectordb")
	v.SetDefault("metadata.sslmode", "disable")
	v.SetDefault("metadata.max_open_conns", 10)
	v.SetDefault("metadata.neo4j_uri", "neo4j://localhost:7687")
	v.SetDefault("metadata.retry.max_attempts", 10)
	v.SetDefault("metadata.retry.delay", time.Second)

	v.SetDefault("index.backend", "qdrant")
	v.SetDefault("index.host", "localhost")
	v.SetDefault("index.port", 6334)
	v.SetDefault("index.flush_interval", time.Duration(0))
	v.SetDefault("index.retry.max_attempts", 10)
	v.SetDefault("index.retry.delay", time.Second)

	v.SetDefault("coordinator.flush_after_insert", false)
	v.SetDefault("coordinator.resolve_concurrency", 16)
	v.SetDefault("coordinator.max_k", 1024)

	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "vectordb-integrity")
	v.SetDefault("temporal.integrity_cron", "")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.output", "stdout")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Check returns an error for settings the process cannot start with.
func (c *Config) Check() error {
	var errs []error
	if !slices.Contains(metadataBackends, c.Metadata.Backend) {
		errs = append(errs, fmt.Errorf("metadata.backend %q must be one of %s", c.Metadata.Backend, strings.Join(metadataBackends, ", ")))
	}
	if !slices.Contains(indexBackends, c.Index.Backend) {
		errs = append(errs, fmt.Errorf("index.backend %q must be one of %s", c.Index.Backend, strings.Join(indexBackends, ", ")))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	return errors.Join(errs...)
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Metadata.Backend == "memory" || c.Index.Backend == "memory" {
		warnings = append(warnings, "an in-memory store is configured; data does not survive a restart")
	}
	if c.Metadata.Backend == "memory" && c.Index.Backend == "qdrant" {
		warnings = append(warnings, "in-memory metadata with a persistent index leaves orphaned index tables after a restart")
	}
	if c.Metadata.Retry.MaxAttempts < 1 {
		warnings = append(warnings, fmt.Sprintf("metadata.retry.max_attempts %d is below 1; a single attempt will be made", c.Metadata.Retry.MaxAttempts))
	}
	if c.Index.Retry.MaxAttempts < 1 {
		warnings = append(warnings, fmt.Sprintf("index.retry.max_attempts %d is below 1; a single attempt will be made", c.Index.Retry.MaxAttempts))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing.sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}
	if c.Coordinator.MaxK < 0 {
		warnings = append(warnings, fmt.Sprintf("coordinator.max_k %d is negative; the default applies", c.Coordinator.MaxK))
	}
	if c.Index.Backend == "qdrant" && c.Index.FlushInterval > 0 {
		warnings = append(warnings, "index.flush_interval has no effect on the qdrant backend")
	}

	return warnings
}

// Load reads configuration from an optional file and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
