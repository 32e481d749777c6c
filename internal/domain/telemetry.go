package domain

// Query is one named telemetry expression
type Query struct {
	Name  string    `yaml:"name" json:"name"`
	Lang  QueryLang `yaml:"lang" json:"lang"`
	Expr  string    `yaml:"expr" json:"expr"`
	Group string    `yaml:"-" json:"group,omitempty"`
}

// Series is one labelled value returned by a metrics query
type Series struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// QueryResult is the outcome of one query. Exactly one of Value or Err is meaningful.
type QueryResult struct {
	Query  Query
	Value  string
	Series []Series
	Count  int
	Err    error
}

// OK reports whether the query succeeded
func (r QueryResult) OK() bool { return r.Err == nil }

// TelemetrySample is the ordered result of one collection pass
type TelemetrySample []QueryResult

// Get returns the result recorded for name
func (s TelemetrySample) Get(name string) (QueryResult, bool) {
	for _, r := range s {
		if r.Query.Name == name {
			return r, true
		}
	}
	return QueryResult{}, false
}

// Failed returns the number of entries that carry an error
func (s TelemetrySample) Failed() int {
	n := 0
	for _, r := range s {
		if r.Err != nil {
			n++
		}
	}
	return n
}
