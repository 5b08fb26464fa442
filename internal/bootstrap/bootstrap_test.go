package bootstrap

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/vectordb/internal/config"
	"github.com/efebarandurmaz/vectordb/internal/observability"
	"github.com/efebarandurmaz/vectordb/internal/server"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Metadata.Backend = "memory"
	cfg.Index.Backend = "memory"
	return cfg
}

func TestOpenStores_Memory(t *testing.T) {
	var buf bytes.Buffer
	audit := observability.NewAuditWriter(&buf, "test")

	s, err := OpenStores(context.Background(), memoryConfig(), nil, observability.NopLogger(), audit)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "memory", s.MetaBackend)
	assert.Equal(t, "memory", s.IndexBackend)
	assert.Equal(t, 2, strings.Count(buf.String(), `"event_type":"store.connect"`))
}

func TestOpenStores_UnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Index.Backend = "milvus"

	_, err := OpenStores(context.Background(), cfg, nil, observability.NopLogger(), nil)
	require.ErrorContains(t, err, "unknown index backend")
}

func TestNewCoordinator_MemoryIndexIsSearchable(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStores(ctx, memoryConfig(), nil, observability.NopLogger(), nil)
	require.NoError(t, err)
	defer s.Close()

	metrics := NewMetrics()
	c := NewCoordinator(memoryConfig(), s, observability.NopLogger(), metrics, nil)
	_, err = c.CreateCollection(ctx, "faces", 2, store.IndexFlat)
	require.NoError(t, err)

	ids, err := c.Insert(ctx, "faces", [][]float32{{1, 1}}, []string{"a"})
	require.NoError(t, err)

	res, err := c.Lookup(ctx, "faces", [][]float32{{1, 1}}, 1, false)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Neighbors, 1)
	assert.Equal(t, ids[0], res[0].Neighbors[0].ID)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CollectionsCreatedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InsertBatchesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LookupsTotal))
}

func TestNewMetrics_Independent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.LookupsTotal.Inc()
	assert.Equal(t, float64(0), testutil.ToFloat64(b.LookupsTotal))
}

func TestRegisterHealth(t *testing.T) {
	s, err := OpenStores(context.Background(), memoryConfig(), nil, observability.NopLogger(), nil)
	require.NoError(t, err)
	defer s.Close()

	h := server.NewHealthServer(nil)
	s.RegisterHealth(h)
	resp := h.Check(context.Background())
	assert.Equal(t, server.HealthStatusHealthy, resp.Status)
	require.Len(t, resp.Checks, 2)
	for _, c := range resp.Checks {
		assert.Equal(t, server.HealthStatusHealthy, c.Status, c.Name)
	}
}

func TestNewSecrets_UnknownProvider(t *testing.T) {
	cfg := memoryConfig()
	cfg.Secrets.Provider = "vault"
	_, err := NewSecrets(cfg)
	require.Error(t, err)
}
