// Package secrets resolves store credentials from the environment or a
// secrets file, so they never have to live in the config file.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Key identifies a secret.
type Key string

const (
	MetadataPassword Key = "metadata_password"
	MetadataDSN      Key = "metadata_dsn"
	TemporalToken    Key = "temporal_token"
)

// DefaultEnvPrefix is prepended to upper-cased keys by the env provider.
const DefaultEnvPrefix = "VECTORDB_"

// ErrNotFound is returned when no provider holds a secret.
var ErrNotFound = errors.New("secret not found")

// Provider is a secret backend.
type Provider interface {
	Get(ctx context.Context, key Key) (string, error)
	Name() string
}

// Config configures the secrets manager.
type Config struct {
	// Provider is "env" or "file".
	Provider string
	// FilePath is the JSON secrets file for the file provider.
	FilePath string
	// EnvPrefix for environment variable names (default: "VECTORDB_").
	EnvPrefix string
}

// DefaultConfig returns default secrets configuration (env-based).
func DefaultConfig() *Config {
	return &Config{
		Provider:  "env",
		EnvPrefix: DefaultEnvPrefix,
	}
}

// Manager reads from the primary provider and falls back to the
// environment. Resolved values are cached for the life of the process.
type Manager struct {
	primary  Provider
	fallback Provider

	mu    sync.RWMutex
	cache map[Key]string
}

// NewManager creates a secrets manager with the specified configuration.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	env := NewEnvProvider(cfg.EnvPrefix)

	m := &Manager{cache: make(map[Key]string)}
	switch cfg.Provider {
	case "file":
		fp, err := NewFileProvider(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
		m.primary, m.fallback = fp, env
	case "env", "":
		m.primary = env
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}
	return m, nil
}

// Get retrieves a secret, trying primary then fallback.
func (m *Manager) Get(ctx context.Context, key Key) (string, error) {
	m.mu.RLock()
	val, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return val, nil
	}

	for _, p := range []Provider{m.primary, m.fallback} {
		if p == nil {
			continue
		}
		if val, err := p.Get(ctx, key); err == nil && val != "" {
			m.mu.Lock()
			m.cache[key] = val
			m.mu.Unlock()
			return val, nil
		}
	}
	return "", fmt.Errorf("%s: %w", key, ErrNotFound)
}

// GetOrDefault retrieves a secret or returns a default value.
func (m *Manager) GetOrDefault(ctx context.Context, key Key, defaultVal string) string {
	val, err := m.Get(ctx, key)
	if err != nil {
		return defaultVal
	}
	return val
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based secrets provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

// Get looks up PREFIX_KEY, then KEY.
func (p *EnvProvider) Get(_ context.Context, key Key) (string, error) {
	name := strings.ToUpper(string(key))
	if val := os.Getenv(p.prefix + name); val != "" {
		return val, nil
	}
	if val := os.Getenv(name); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("env var %s%s: %w", p.prefix, name, ErrNotFound)
}
