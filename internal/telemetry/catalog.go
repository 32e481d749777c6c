package telemetry

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Names of the summary scalars the recommendations phase reads
const (
	SummarySessionStarts = "session starts total"
	SummaryPolecatSpawns = "polecat spawns total"
	SummaryInputTokens   = "input tokens total"
	SummaryOutputTokens  = "output tokens total"
	SummaryErrorEvents   = "error events"
)

// Group is a titled set of queries that share a language
type Group struct {
	Name    string           `yaml:"name"`
	Lang    domain.QueryLang `yaml:"lang"`
	Queries []domain.Query   `yaml:"queries"`
}

// Catalog lists the queries run after every test
type Catalog struct {
	Groups  []Group        `yaml:"groups"`
	Summary []domain.Query `yaml:"summary"`
}

// DefaultCatalog returns the built-in catalog
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file. An empty path loads the built-in one.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes YAML and fills in each query's group and language
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for gi := range c.Groups {
		g := &c.Groups[gi]
		if g.Name == "" {
			return nil, fmt.Errorf("catalog group %d has no name", gi+1)
		}
		for qi := range g.Queries {
			q := &g.Queries[qi]
			q.Group = g.Name
			if q.Lang == "" {
				q.Lang = g.Lang
			}
			if q.Name == "" || q.Expr == "" {
				return nil, fmt.Errorf("catalog group %q: query %d needs name and expr", g.Name, qi+1)
			}
		}
	}
	for i, q := range c.Summary {
		if q.Name == "" || q.Expr == "" {
			return nil, fmt.Errorf("catalog summary query %d needs name and expr", i+1)
		}
	}
	return &c, nil
}

// Queries flattens every group in order
func (c *Catalog) Queries() []domain.Query {
	var out []domain.Query
	for _, g := range c.Groups {
		out = append(out, g.Queries...)
	}
	return out
}
