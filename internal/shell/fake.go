package shell

import (
	"context"
	"strings"
	"sync"
)

// Call records one invocation seen by a Fake
type Call struct {
	Name string
	Args []string
	Opts Options
}

// Line returns the call as a single command line
func (c Call) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Fake is an in-memory Runner. Respond decides the result of each call;
// a nil Respond makes every command succeed with empty output.
type Fake struct {
	Respond func(c Call) Result

	mu    sync.Mutex
	calls []Call
}

// Run implements Runner
func (f *Fake) Run(ctx context.Context, name string, args []string, opts ...Option) Result {
	c := Call{Name: name, Args: append([]string(nil), args...), Opts: Apply(opts...)}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	respond := f.Respond
	f.mu.Unlock()

	res := Result{Name: name, Args: c.Args}
	if respond != nil {
		r := respond(c)
		res.Output, res.ExitCode, res.Err = r.Output, r.ExitCode, r.Err
	}
	return res
}

// Calls returns a copy of the recorded calls
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls whose command line starts with prefix
func (f *Fake) CallsTo(prefix string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.Line(), prefix) {
			out = append(out, c)
		}
	}
	return out
}
