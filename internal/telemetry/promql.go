package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// NoData is rendered for a query that returned nothing
const NoData = "(no data)"

// PromQL runs instant queries against a Prometheus-compatible API such as
// VictoriaMetrics
type PromQL struct {
	api v1.API
	now func() time.Time
}

// NewPromQL creates a PromQL backend for the server at baseURL
func NewPromQL(baseURL string, client *http.Client) (*PromQL, error) {
	cfg := api.Config{Address: baseURL}
	if client != nil {
		cfg.Client = client
	}
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("promql client: %w", err)
	}
	return &PromQL{api: v1.NewAPI(c), now: time.Now}, nil
}

// Execute implements Backend
func (p *PromQL) Execute(ctx context.Context, expr string) (domain.QueryResult, error) {
	val, _, err := p.api.Query(ctx, expr, p.now())
	if err != nil {
		return domain.QueryResult{}, err
	}
	series := seriesOf(val, expr)
	return domain.QueryResult{Value: RenderSeries(series), Series: series}, nil
}

func seriesOf(val model.Value, expr string) []domain.Series {
	switch v := val.(type) {
	case model.Vector:
		out := make([]domain.Series, 0, len(v))
		for _, s := range v {
			out = append(out, toSeries(s.Metric, float64(s.Value), expr))
		}
		return out
	case *model.Scalar:
		return []domain.Series{{Name: expr, Value: float64(v.Value)}}
	case model.Matrix:
		out := make([]domain.Series, 0, len(v))
		for _, ss := range v {
			if len(ss.Values) == 0 {
				continue
			}
			last := ss.Values[len(ss.Values)-1]
			out = append(out, toSeries(ss.Metric, float64(last.Value), expr))
		}
		return out
	}
	return nil
}

func toSeries(m model.Metric, value float64, expr string) domain.Series {
	s := domain.Series{Name: expr, Labels: make(map[string]string, len(m)), Value: value}
	for k, v := range m {
		if k == model.MetricNameLabel {
			s.Name = string(v)
			continue
		}
		s.Labels[string(k)] = string(v)
	}
	return s
}

// RenderSeries formats series one per line as `name{k=v, ...} = value`
func RenderSeries(series []domain.Series) string {
	if len(series) == 0 {
		return NoData
	}
	lines := make([]string, 0, len(series))
	for _, s := range series {
		lines = append(lines, fmt.Sprintf("%s%s = %s", s.Name, renderLabels(s.Labels), model.SampleValue(s.Value)))
	}
	return strings.Join(lines, "\n")
}

func renderLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
