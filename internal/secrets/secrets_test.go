package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// ==================== EnvProvider Tests ====================

func TestEnvProvider_Get_WithPrefix(t *testing.T) {
	t.Setenv("VECTORDB_METADATA_PASSWORD", "hunter2")

	p := NewEnvProvider("")
	val, err := p.Get(context.Background(), MetadataPassword)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "hunter2" {
		t.Fatalf("expected 'hunter2', got %s", val)
	}
}

func TestEnvProvider_Get_WithoutPrefix(t *testing.T) {
	t.Setenv("METADATA_DSN", "postgres://localhost/vectors")

	p := NewEnvProvider("VECTORDB_")
	val, err := p.Get(context.Background(), MetadataDSN)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "postgres://localhost/vectors" {
		t.Fatalf("unexpected value %s", val)
	}
}

func TestEnvProvider_Get_NotFound(t *testing.T) {
	p := NewEnvProvider("VECTORDB_")
	_, err := p.Get(context.Background(), Key("nonexistent_secret_xyz"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ==================== FileProvider Tests ====================

func writeSecrets(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileProvider_Get(t *testing.T) {
	p, err := NewFileProvider(writeSecrets(t, `{"metadata_password": "from-file"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	val, err := p.Get(context.Background(), MetadataPassword)
	if err != nil || val != "from-file" {
		t.Fatalf("expected from-file, got %q (%v)", val, err)
	}
	if _, err := p.Get(context.Background(), TemporalToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileProvider_Reload(t *testing.T) {
	path := writeSecrets(t, `{"temporal_token": "old"}`)
	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"temporal_token": "new"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := p.Reload(); err != nil {
		t.Fatal(err)
	}
	if val, _ := p.Get(context.Background(), TemporalToken); val != "new" {
		t.Fatalf("expected reloaded value, got %s", val)
	}
}

func TestFileProvider_Errors(t *testing.T) {
	if _, err := NewFileProvider(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := NewFileProvider(writeSecrets(t, "not json")); err == nil {
		t.Fatal("expected error for malformed file")
	}
}

// ==================== Manager Tests ====================

func TestManager_FileFallsBackToEnv(t *testing.T) {
	t.Setenv("VECTORDB_TEMPORAL_TOKEN", "from-env")

	m, err := NewManager(&Config{
		Provider: "file",
		FilePath: writeSecrets(t, `{"metadata_password": "from-file"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if val, _ := m.Get(ctx, MetadataPassword); val != "from-file" {
		t.Fatalf("expected from-file, got %s", val)
	}
	if val, _ := m.Get(ctx, TemporalToken); val != "from-env" {
		t.Fatalf("expected from-env, got %s", val)
	}
}

func TestManager_CachesValues(t *testing.T) {
	t.Setenv("VECTORDB_METADATA_PASSWORD", "first")
	m, err := NewManager(nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if val, _ := m.Get(ctx, MetadataPassword); val != "first" {
		t.Fatalf("expected first, got %s", val)
	}
	t.Setenv("VECTORDB_METADATA_PASSWORD", "second")
	if val, _ := m.Get(ctx, MetadataPassword); val != "first" {
		t.Fatalf("expected cached value, got %s", val)
	}
}

func TestManager_GetOrDefault(t *testing.T) {
	m, _ := NewManager(nil)
	if got := m.GetOrDefault(context.Background(), Key("absent_xyz"), "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestManager_UnknownProvider(t *testing.T) {
	if _, err := NewManager(&Config{Provider: "vault"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
