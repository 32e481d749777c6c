// Package telemetry queries the metrics and log stores after a test run.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// ErrUnknownLanguage is recorded for a query whose language has no backend
var ErrUnknownLanguage = errors.New("unknown query language")

// DefaultQueryTimeout bounds a single backend call
const DefaultQueryTimeout = 10 * time.Second

// Backend executes one expression. It fills Value and, where it has them,
// Series or Count.
type Backend interface {
	Execute(ctx context.Context, expr string) (domain.QueryResult, error)
}

// Collector runs queries against the backend registered for each language
type Collector struct {
	backends map[domain.QueryLang]Backend
	timeout  time.Duration
	log      *slog.Logger
}

// NewCollector creates an empty Collector
func NewCollector(log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{
		backends: make(map[domain.QueryLang]Backend),
		timeout:  DefaultQueryTimeout,
		log:      log,
	}
}

// Register installs the backend for lang, replacing any previous one
func (c *Collector) Register(lang domain.QueryLang, b Backend) *Collector {
	c.backends[lang] = b
	return c
}

// SetTimeout changes the per-query timeout
func (c *Collector) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Collect runs every query in order. A failing query is recorded in its
// entry and never stops the others, so the sample always has one entry per
// query.
func (c *Collector) Collect(ctx context.Context, queries []domain.Query) domain.TelemetrySample {
	out := make(domain.TelemetrySample, len(queries))
	for i, q := range queries {
		out[i] = c.run(ctx, q)
	}
	if failed := out.Failed(); failed > 0 {
		c.log.Warn("telemetry queries failed", "failed", failed, "total", len(queries))
	}
	return out
}

func (c *Collector) run(ctx context.Context, q domain.Query) domain.QueryResult {
	b, ok := c.backends[q.Lang]
	if !ok {
		return domain.QueryResult{Query: q, Err: fmt.Errorf("%w: %q", ErrUnknownLanguage, q.Lang)}
	}
	if err := ctx.Err(); err != nil {
		return domain.QueryResult{Query: q, Err: err}
	}

	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := b.Execute(qctx, q.Expr)
	res.Query = q
	if err != nil {
		c.log.Debug("telemetry query failed", "name", q.Name, "lang", q.Lang, "error", err)
		res.Err = fmt.Errorf("%s %s: %w", q.Lang, q.Name, err)
	}
	return res
}

// Scalar runs a single query and returns its numeric value. For PromQL
// that is the first sample, for LogsQL the event count.
func (c *Collector) Scalar(ctx context.Context, q domain.Query) (float64, error) {
	res := c.run(ctx, q)
	if res.Err != nil {
		return 0, res.Err
	}
	switch {
	case len(res.Series) > 0:
		return res.Series[0].Value, nil
	case q.Lang == domain.LangLogsQL:
		return float64(res.Count), nil
	}
	return 0, nil
}

// Scalars evaluates a list of queries with Scalar, keyed by name. Failed
// queries are left out.
func (c *Collector) Scalars(ctx context.Context, queries []domain.Query) map[string]float64 {
	out := make(map[string]float64, len(queries))
	for _, q := range queries {
		v, err := c.Scalar(ctx, q)
		if err != nil {
			c.log.Warn("summary query failed", "name", q.Name, "error", err)
			continue
		}
		out[q.Name] = v
	}
	return out
}
