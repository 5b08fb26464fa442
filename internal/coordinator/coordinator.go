// Package coordinator keeps the metadata store and the index store in
// agreement. It owns collection lifecycle, deduplicated insertion and
// lookup; every operation runs to completion on the caller's goroutine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/efebarandurmaz/vectordb/internal/observability"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

const (
	// DefaultResolveConcurrency bounds concurrent asset lookups within one
	// Lookup call.
	DefaultResolveConcurrency = 16
	// DefaultMaxK bounds the neighbor count of approximate lookups.
	DefaultMaxK = 1024
	// MaxSample bounds the page size of Sample.
	MaxSample = 10000
)

// Coordinator holds the handles to both stores and the dimension cache.
// Build one per process with New and share it; it is safe for concurrent
// use.
type Coordinator struct {
	meta  store.MetadataStore
	index store.IndexStore

	logger  *slog.Logger
	metrics *observability.VectorDBMetrics
	audit   *observability.AuditLogger

	flushAfterInsert   bool
	resolveConcurrency int
	maxK               int

	mu   sync.RWMutex
	dims map[string]int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.VectorDBMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithAudit sets the audit logger for collection lifecycle events.
func WithAudit(a *observability.AuditLogger) Option {
	return func(c *Coordinator) { c.audit = a }
}

// WithFlushAfterInsert flushes the index after every committed batch that
// indexed new vectors.
func WithFlushAfterInsert(on bool) Option {
	return func(c *Coordinator) { c.flushAfterInsert = on }
}

// WithResolveConcurrency bounds concurrent asset lookups per Lookup call.
func WithResolveConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.resolveConcurrency = n
		}
	}
}

// WithMaxK bounds k for approximate lookups.
func WithMaxK(k int) Option {
	return func(c *Coordinator) {
		if k > 0 {
			c.maxK = k
		}
	}
}

// New creates a Coordinator over the two stores.
func New(meta store.MetadataStore, index store.IndexStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		meta:               meta,
		index:              index,
		logger:             slog.Default(),
		resolveConcurrency: DefaultResolveConcurrency,
		maxK:               DefaultMaxK,
		dims:               make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observability.NewVectorDBMetrics()
	}
	return c
}

// MetadataStore returns the metadata handle.
func (c *Coordinator) MetadataStore() store.MetadataStore { return c.meta }

// IndexStore returns the index handle.
func (c *Coordinator) IndexStore() store.IndexStore { return c.index }

// dimensions returns the dimensionality of name, reading through the cache.
// Schema changes made by other processes are not observed.
func (c *Coordinator) dimensions(ctx context.Context, name string) (int, error) {
	c.mu.RLock()
	d, ok := c.dims[name]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}
	d, err := c.meta.GetDimensions(ctx, name)
	if err != nil {
		return 0, err
	}
	c.cacheDimensions(name, d)
	return d, nil
}

func (c *Coordinator) cacheDimensions(name string, d int) {
	c.mu.Lock()
	c.dims[name] = d
	c.mu.Unlock()
}

func (c *Coordinator) evictDimensions(name string) {
	c.mu.Lock()
	delete(c.dims, name)
	c.mu.Unlock()
}

// commitError marks a failure of the final commit, after fn succeeded.
type commitError struct{ err error }

func (e *commitError) Error() string { return fmt.Sprintf("commit metadata: %v", e.err) }
func (e *commitError) Unwrap() error { return e.err }

// withTx runs fn inside one metadata transaction. It commits when fn returns
// nil and rolls back on every other exit, including a panic.
func (c *Coordinator) withTx(ctx context.Context, fn func(tx store.MetadataTx) error) (err error) {
	tx, err := c.meta.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			c.rollback(ctx, tx)
			panic(p)
		}
		if err != nil {
			c.rollback(ctx, tx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if cerr := tx.Commit(); cerr != nil {
		return &commitError{err: cerr}
	}
	return nil
}

func (c *Coordinator) rollback(ctx context.Context, tx store.MetadataTx) {
	if err := tx.Rollback(); err != nil {
		c.logger.ErrorContext(ctx, "metadata rollback failed", "error", err)
	}
}

func isCommitError(err error) bool {
	var ce *commitError
	return errors.As(err, &ce)
}
