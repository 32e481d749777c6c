package stack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when the code under test sleeps
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 18, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

type countingProbe struct {
	name    string
	mu      sync.Mutex
	calls   int
	readyOn int // 0 means never
}

func (p *countingProbe) Name() string { return p.name }

func (p *countingProbe) Check(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.readyOn > 0 && p.calls >= p.readyOn {
		return nil
	}
	return errors.New("connection refused")
}

func TestBootstrapper_NeverReadyFailsAtDeadline(t *testing.T) {
	clock := newFakeClock()
	probe := &countingProbe{name: "victoriametrics"}
	started := 0

	b := NewBootstrapper(func(ctx context.Context) error { started++; return nil }, 2*time.Second, nil, probe)
	b.SetClock(clock.Now, clock.Sleep)

	begin := clock.Now()
	_, err := b.Start(context.Background(), 10*time.Second)

	var bootErr *BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("err = %v, want *BootstrapError", err)
	}
	if !errors.Is(err, ErrServicesUnready) {
		t.Error("errors.Is(err, ErrServicesUnready) should hold")
	}
	if len(bootErr.Failed) != 1 || bootErr.Failed[0] != "victoriametrics" {
		t.Errorf("Failed = %v, want [victoriametrics]", bootErr.Failed)
	}
	if elapsed := clock.Now().Sub(begin); elapsed != 10*time.Second {
		t.Errorf("failed after %v, want 10s", elapsed)
	}
	if probe.calls != 6 {
		t.Errorf("probe calls = %d, want 6 (t=0,2,4,6,8,10)", probe.calls)
	}
	if started != 1 {
		t.Errorf("start invoked %d times, want 1", started)
	}
}

func TestBootstrapper_PartialFailureNamesOnlyFailedServices(t *testing.T) {
	clock := newFakeClock()
	vm := &countingProbe{name: "victoriametrics", readyOn: 1}
	vl := &countingProbe{name: "victorialogs"}

	b := NewBootstrapper(nil, 2*time.Second, nil, vm, vl)
	b.SetClock(clock.Now, clock.Sleep)

	_, err := b.Start(context.Background(), 4*time.Second)

	var bootErr *BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("err = %v, want *BootstrapError", err)
	}
	if len(bootErr.Failed) != 1 || bootErr.Failed[0] != "victorialogs" {
		t.Errorf("Failed = %v, want [victorialogs]", bootErr.Failed)
	}
	if vm.calls != 1 {
		t.Errorf("ready service probed %d times, want 1", vm.calls)
	}
	if !bootErr.Services[0].Ready || bootErr.Services[1].Ready {
		t.Errorf("Services = %+v", bootErr.Services)
	}
}

func TestBootstrapper_BecomesReady(t *testing.T) {
	clock := newFakeClock()
	vm := &countingProbe{name: "victoriametrics", readyOn: 3}
	vl := &countingProbe{name: "victorialogs", readyOn: 1}

	b := NewBootstrapper(nil, 2*time.Second, nil, vm, vl)
	b.SetClock(clock.Now, clock.Sleep)

	ready, err := b.Start(context.Background(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ready.Elapsed != 4*time.Second {
		t.Errorf("Elapsed = %v, want 4s", ready.Elapsed)
	}
	if ready.Services[0].Attempts != 3 || ready.Services[0].After != 4*time.Second {
		t.Errorf("vm status = %+v, want 3 attempts after 4s", ready.Services[0])
	}
	if ready.Services[1].Attempts != 1 {
		t.Errorf("vl attempts = %d, want 1", ready.Services[1].Attempts)
	}
}

func TestBootstrapper_LastSleepIsClamped(t *testing.T) {
	clock := newFakeClock()
	b := NewBootstrapper(nil, 2*time.Second, nil, &countingProbe{name: "svc"})
	b.SetClock(clock.Now, clock.Sleep)

	b.Start(context.Background(), 5*time.Second)

	want := []time.Duration{2 * time.Second, 2 * time.Second, time.Second}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", clock.sleeps, want)
	}
	for i := range want {
		if clock.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, clock.sleeps[i], want[i])
		}
	}
}

func TestBootstrapper_Cancelled(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBootstrapper(nil, 2*time.Second, nil, &countingProbe{name: "svc"})
	b.SetClock(clock.Now, clock.Sleep)

	_, err := b.Start(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if !errors.Is(err, ErrServicesUnready) {
		t.Errorf("err = %v, want ErrServicesUnready", err)
	}
}

func hang(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestBootstrapper_HungCheckStopsAtTimeout(t *testing.T) {
	b := NewBootstrapper(nil, 50*time.Millisecond, nil, CheckFunc{Service: "mayor", Fn: hang})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	begin := time.Now()
	_, err := b.Start(ctx, 200*time.Millisecond)

	var bootErr *BootstrapError
	if !errors.As(err, &bootErr) {
		t.Fatalf("err = %v, want *BootstrapError", err)
	}
	if len(bootErr.Failed) != 1 || bootErr.Failed[0] != "mayor" {
		t.Errorf("Failed = %v, want [mayor]", bootErr.Failed)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, the caller's context was still live", err)
	}
	if elapsed := time.Since(begin); elapsed >= time.Second {
		t.Errorf("Start returned after %v, want about 200ms", elapsed)
	}
}

func TestBootstrapper_HungStartStopsAtTimeout(t *testing.T) {
	b := NewBootstrapper(hang, 50*time.Millisecond, nil, &countingProbe{name: "svc"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	begin := time.Now()
	_, err := b.Start(ctx, 200*time.Millisecond)
	if !errors.Is(err, ErrServicesUnready) {
		t.Fatalf("err = %v, want ErrServicesUnready", err)
	}
	if elapsed := time.Since(begin); elapsed >= time.Second {
		t.Errorf("Start returned after %v, want about 200ms", elapsed)
	}
}

func TestHTTPProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s, want /health", r.URL.Path)
		}
		w.Write([]byte("OK"))
	}))
	defer healthy.Close()

	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	if err := (HTTPProbe{Service: "vm", URL: healthy.URL + "/health"}).Check(context.Background()); err != nil {
		t.Errorf("healthy probe: %v", err)
	}
	if err := (HTTPProbe{Service: "vl", URL: sick.URL + "/health"}).Check(context.Background()); err == nil {
		t.Error("503 should fail the probe")
	}
}
