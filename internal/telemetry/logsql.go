package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// DefaultLogsLimit caps the number of events VictoriaLogs returns per query
const DefaultLogsLimit = 10000

// LogsQL counts matching events in VictoriaLogs. The query endpoint
// streams one JSON object per line.
type LogsQL struct {
	BaseURL string
	Limit   int
	Client  *http.Client
}

// NewLogsQL creates a LogsQL backend for the server at baseURL
func NewLogsQL(baseURL string, client *http.Client) *LogsQL {
	if client == nil {
		client = &http.Client{Timeout: DefaultQueryTimeout}
	}
	return &LogsQL{BaseURL: strings.TrimRight(baseURL, "/"), Limit: DefaultLogsLimit, Client: client}
}

// Execute implements Backend
func (l *LogsQL) Execute(ctx context.Context, expr string) (domain.QueryResult, error) {
	q := url.Values{}
	q.Set("query", expr)
	q.Set("limit", strconv.Itoa(l.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.BaseURL+"/select/logsql/query?"+q.Encode(), nil)
	if err != nil {
		return domain.QueryResult{}, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return domain.QueryResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.QueryResult{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	n, err := countLines(resp.Body)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("read response: %w", err)
	}
	return domain.QueryResult{Value: strconv.Itoa(n), Count: n}, nil
}

func countLines(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			n++
		}
	}
	return n, sc.Err()
}
