package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Metadata.Backend != "postgres" || cfg.Index.Backend != "qdrant" {
		t.Fatalf("unexpected default backends %s/%s", cfg.Metadata.Backend, cfg.Index.Backend)
	}
	if cfg.Metadata.Retry.MaxAttempts != 10 || cfg.Metadata.Retry.Delay != time.Second {
		t.Fatalf("unexpected default retry budget %+v", cfg.Metadata.Retry)
	}
	if cfg.Index.Port != 6334 {
		t.Fatalf("expected qdrant gRPC port 6334, got %d", cfg.Index.Port)
	}
	if err := cfg.Check(); err != nil {
		t.Fatalf("defaults must pass Check: %v", err)
	}
	if warnings := cfg.Validate(); len(warnings) != 0 {
		t.Errorf("defaults should have no warnings, got %v", warnings)
	}
}

func TestCheck_UnknownBackends(t *testing.T) {
	cfg := Default()
	cfg.Metadata.Backend = "mysql"
	cfg.Index.Backend = "milvus"

	err := cfg.Check()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"metadata.backend", "index.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestValidate_Warnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"memory metadata", func(c *Config) { c.Metadata.Backend = "memory" }, "orphaned index tables"},
		{"memory index", func(c *Config) { c.Index.Backend = "memory"; c.Metadata.Backend = "neo4j" }, "does not survive"},
		{"zero attempts", func(c *Config) { c.Index.Retry.MaxAttempts = 0 }, "index.retry.max_attempts"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "sample_rate"},
		{"flush interval", func(c *Config) { c.Index.FlushInterval = time.Second }, "flush_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if !hasWarning(cfg.Validate(), tt.want) {
				t.Errorf("expected warning containing %q, got %v", tt.want, cfg.Validate())
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	m := MetadataConfig{Host: "db", Port: 5433, User: "svc", Password: "p@ss", Database: "vectors", SSLMode: "require"}
	want := "postgres://svc:p%40ss@db:5433/vectors?sslmode=require"
	if got := m.PostgresDSN(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	m.DSN = "postgres://explicit"
	if got := m.PostgresDSN(); got != "postgres://explicit" {
		t.Fatalf("explicit DSN must win, got %s", got)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectordb.yaml")
	body := `
metadata:
  backend: neo4j
  neo4j_uri: neo4j://graph:7687
index:
  backend: memory
  flush_interval: 2s
coordinator:
  max_k: 50
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VECTORDB_COORDINATOR_MAX_K", "75")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Metadata.Backend != "neo4j" || cfg.Metadata.Neo4jURI != "neo4j://graph:7687" {
		t.Fatalf("file values not applied: %+v", cfg.Metadata)
	}
	if cfg.Index.FlushInterval != 2*time.Second {
		t.Fatalf("expected 2s flush interval, got %v", cfg.Index.FlushInterval)
	}
	if cfg.Coordinator.MaxK != 75 {
		t.Fatalf("env override should win, got %d", cfg.Coordinator.MaxK)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("defaults should fill unset keys, got %q", cfg.Server.Addr)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("VECTORDB_METADATA_BACKEND", "memory")
	t.Setenv("VECTORDB_INDEX_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Metadata.Backend != "memory" {
		t.Fatalf("expected env backend, got %s", cfg.Metadata.Backend)
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("VECTORDB_INDEX_BACKEND", "faiss")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRetryConfig_Policy(t *testing.T) {
	p := RetryConfig{MaxAttempts: 3, Delay: 200 * time.Millisecond}.Policy()
	if p.MaxAttempts != 3 || p.Delay != 200*time.Millisecond || p.AttemptTimeout != 0 {
		t.Fatalf("unexpected policy %+v", p)
	}
}
