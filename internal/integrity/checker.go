// Package integrity reports disagreement between the metadata store and the
// index store. It never repairs anything.
package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/vectordb/internal/observability"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

// CollectionStatus is the presence of one registered collection in each
// store.
type CollectionStatus struct {
	Name       string `json:"name"`
	InMetadata bool   `json:"in_metadata"`
	InIndex    bool   `json:"in_index"`
}

// OK reports whether both stores hold the collection.
func (s CollectionStatus) OK() bool { return s.InMetadata && s.InIndex }

// Report is the outcome of one check.
type Report struct {
	OK          bool               `json:"ok"`
	CheckedAt   time.Time          `json:"checked_at"`
	Collections []CollectionStatus `json:"collections"`
}

// Violations returns the names of collections missing from either store.
func (r Report) Violations() []string {
	var out []string
	for _, c := range r.Collections {
		if !c.OK() {
			out = append(out, c.Name)
		}
	}
	return out
}

// Checker compares the registered collections against both stores.
type Checker struct {
	meta    store.MetadataStore
	index   store.IndexStore
	logger  *slog.Logger
	metrics *observability.VectorDBMetrics
	audit   *observability.AuditLogger
	now     func() time.Time
}

// NewChecker creates a Checker. metrics and audit may be nil.
func NewChecker(meta store.MetadataStore, index store.IndexStore, logger *slog.Logger,
	metrics *observability.VectorDBMetrics, audit *observability.AuditLogger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{meta: meta, index: index, logger: logger, metrics: metrics, audit: audit, now: time.Now}
}

// Check lists every registered collection and checks both stores for its
// physical table. An error is returned only when a store cannot be queried.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	ctx, span := observability.StartIntegritySpan(ctx)
	defer span.End()
	start := c.now()

	names, err := c.meta.GetExistingTables(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("list collections: %w", err)
	}

	report := &Report{OK: true, CheckedAt: start.UTC(), Collections: make([]CollectionStatus, 0, len(names))}
	for _, name := range names {
		status := CollectionStatus{Name: name}
		if status.InMetadata, err = c.meta.TableExists(ctx, name); err != nil {
			observability.RecordError(span, err)
			return nil, fmt.Errorf("check metadata table %q: %w", name, err)
		}
		if status.InIndex, err = c.index.TableExists(ctx, name); err != nil {
			observability.RecordError(span, err)
			return nil, fmt.Errorf("check index table %q: %w", name, err)
		}

		if status.OK() {
			c.logger.InfoContext(ctx, "collection consistent", "collection", name)
		} else {
			report.OK = false
			c.logger.WarnContext(ctx, "collection inconsistent",
				"collection", name,
				"in_metadata", status.InMetadata,
				"in_index", status.InIndex,
				"violation", store.ErrIntegrityViolation)
		}
		report.Collections = append(report.Collections, status)
	}

	violations := report.Violations()
	observability.RecordIntegrityResult(span, len(report.Collections), len(violations))
	if c.metrics != nil {
		c.metrics.RecordIntegrityCheck(len(violations))
	}
	c.audit.LogIntegrityCheck(len(report.Collections), violations, c.now().Sub(start))
	return report, nil
}
