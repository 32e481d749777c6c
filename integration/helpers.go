//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
)

// repoRoot returns the module root
func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Dir(filepath.Dir(filename))
}

// binaryPath builds the CLI once per test binary
func binaryPath(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(os.TempDir(), "gastown-harness-integration")
	if built.CompareAndSwap(false, true) {
		cmd := exec.Command("go", "build", "-o", bin, "./cmd/gastown-harness")
		cmd.Dir = repoRoot(t)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("Failed to build binary: %v\n%s", err, out)
		}
	}
	return bin
}

var built atomic.Bool

const fakeDocker = `#!/bin/sh
echo "docker $*" >> "$FAKE_CALLS"
exit 0
`

const fakeGT = `#!/bin/sh
echo "gt $*" >> "$FAKE_CALLS"
case "$1 $2" in
  "mayor status") echo "Mayor session is running" ;;
  "convoy list")
    if [ "$4" = "--json" ]; then
      echo '[{"id":"hq-cv-1","title":"The Crypto Tales","status":"'"${FAKE_CONVOY_STATUS:-landed}"'"}]'
    else
      echo "hq-cv-1  The Crypto Tales  ${FAKE_CONVOY_STATUS:-landed}"
    fi ;;
  nudge*)
    if [ -n "$FAKE_NUDGE_MISSING" ]; then
      echo "error: agent \"$2\" not found"
      exit 1
    fi
    echo "Nudged $2" ;;
  *) echo "ok" ;;
esac
exit 0
`

// fakeBin writes docker and gt stand-ins to a directory for PATH
func fakeBin(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake commands are shell scripts")
	}
	dir := t.TempDir()
	for name, body := range map[string]string{"docker": fakeDocker, "gt": fakeGT, "git": "#!/bin/sh\nexit 0\n"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// victoria serves the health, PromQL and LogsQL endpoints. healthy=false
// makes /health answer 503.
func victoria(t *testing.T, healthy bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if !healthy {
				http.Error(w, "down", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, "OK")
		case "/api/v1/query":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1769428800,"3"]}]}}`)
		case "/select/logsql/query":
			fmt.Fprint(w, "{\"_msg\":\"x\"}\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// env is the environment for one harness invocation
type env struct {
	base   string
	config string
	calls  string
	vars   []string
}

func newEnv(t *testing.T, vmURL string) *env {
	t.Helper()
	base := t.TempDir()
	prompt := filepath.Join(base, "PROMPT1.md")
	if err := os.WriteFile(prompt, []byte("Build The Crypto Tales."), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := fmt.Sprintf(`[general]
base_dir = %q
town_dir = %q
prompt_file = %q
database_path = %q

[stack]
otel_dir = %q
vm_url = %q
vl_url = %q
trace_bin = %q
trace_required = false
health_timeout = "1s"
health_interval = "100ms"

[convoy]
poll_interval = "200ms"
deadline = "1s"
`, base, base, prompt, filepath.Join(base, "history.db"), base, vmURL, vmURL, filepath.Join(base, "no-trace"))

	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	e := &env{base: base, config: configPath, calls: filepath.Join(base, "calls.log")}
	e.vars = append(os.Environ(),
		"PATH="+fakeBin(t)+string(os.PathListSeparator)+os.Getenv("PATH"),
		"FAKE_CALLS="+e.calls,
		"CONVOY_TIMEOUT=",
		"GASTOWN_OTEL_DIR=",
	)
	return e
}

// run executes the harness and returns its combined output and exit code
func (e *env) run(t *testing.T, extraEnv []string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binaryPath(t), append([]string{"--config", e.config}, args...)...)
	cmd.Env = append(append([]string{}, e.vars...), extraEnv...)
	out, err := cmd.CombinedOutput()
	code := 0
	if exit, ok := err.(*exec.ExitError); ok {
		code = exit.ExitCode()
	} else if err != nil {
		t.Fatalf("run: %v", err)
	}
	return string(out), code
}

func (e *env) callLog(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(e.calls)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
