package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raysh454/webaudit/internal/events"
	"github.com/raysh454/webaudit/internal/module"
	"github.com/raysh454/webaudit/internal/mozilla"
	"github.com/raysh454/webaudit/internal/testutil"
	"github.com/raysh454/webaudit/internal/webclient"
)

// stubModule succeeds for every host except those in fail.
type stubModule struct {
	id      string
	fail    map[string]bool
	delay   time.Duration
	initErr error

	inits    atomic.Int32
	finishes atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *stubModule) ID() string   { return s.id }
func (s *stubModule) Name() string { return strings.ToUpper(s.id) }

func (s *stubModule) Init(context.Context, *module.Context) error {
	s.inits.Add(1)
	return s.initErr
}

func (s *stubModule) AnalyseDomain(ctx context.Context, target module.Target) module.Outcome {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return module.Failure(ctx.Err())
		}
	}
	if s.fail[target.Hostname()] {
		return module.Failure(fmt.Errorf("%s: %w", target.Hostname(), module.ErrRemoteScanFailed))
	}
	return module.Success(s.id + ":" + target.Hostname())
}

func (s *stubModule) Finish() error {
	s.finishes.Add(1)
	return nil
}

func newTestOrchestrator(t *testing.T, cfg OrchestratorConfig, mods ...module.DomainModule) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(cfg, nil, &testutil.DummyLogger{}, mods...)
	if err := o.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

func targets(t *testing.T, hosts ...string) []module.Target {
	t.Helper()
	out := make([]module.Target, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, module.MustParseTarget(h))
	}
	return out
}

// ─── Construction ──────────────────────────────────────────────────────

func TestNewOrchestrator_Defaults(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(OrchestratorConfig{}, nil, nil)
	if cap(o.sem) != 1 || o.cfg.JobEventBuffer <= 0 {
		t.Fatalf("expected sane defaults, got %+v", o.cfg)
	}
	if o.mc == nil {
		t.Fatal("expected a module context when nil passed")
	}
}

func TestOrchestrator_InitDropsFailingModules(t *testing.T) {
	t.Parallel()
	good := &stubModule{id: "good"}
	bad := &stubModule{id: "bad", initErr: errors.New("no credentials")}
	o := NewOrchestrator(OrchestratorConfig{Concurrency: 2}, nil, nil, good, bad)

	err := o.Init(context.Background())
	if err == nil || !strings.Contains(err.Error(), "init bad") {
		t.Fatalf("expected aggregated init error, got %v", err)
	}
	mods := o.Modules()
	if len(mods) != 1 || mods[0].ID != "good" || mods[0].Name != "GOOD" {
		t.Fatalf("expected only the good module, got %+v", mods)
	}
	if err := o.Init(context.Background()); err != nil {
		t.Fatalf("second Init should be a no-op: %v", err)
	}
	if good.inits.Load() != 1 {
		t.Errorf("Init must run once per module, got %d", good.inits.Load())
	}
	o.Close()
	if bad.finishes.Load() != 0 || good.finishes.Load() != 1 {
		t.Errorf("only initialized modules are finished")
	}
}

func TestOrchestrator_RunBeforeInit(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator(OrchestratorConfig{}, nil, nil, &stubModule{id: "m"})
	if _, err := o.Run(context.Background(), targets(t, "a.example")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

// ─── Run ───────────────────────────────────────────────────────────────

func TestOrchestrator_RunOrdersResults(t *testing.T) {
	t.Parallel()
	m1 := &stubModule{id: "m1", fail: map[string]bool{"b.example": true}}
	m2 := &stubModule{id: "m2"}
	o := newTestOrchestrator(t, OrchestratorConfig{Concurrency: 3}, m1, m2)

	results, err := o.Run(context.Background(), targets(t, "a.example", "b.example"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []struct {
		module, host string
		ok           bool
	}{
		{"m1", "a.example", true},
		{"m2", "a.example", true},
		{"m1", "b.example", false},
		{"m2", "b.example", true},
	}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for i, w := range want {
		r := results[i]
		if r.Module != w.module || r.Hostname != w.host || r.OK != w.ok {
			t.Errorf("result %d = %+v, want %+v", i, r, w)
		}
	}
	if results[2].Kind != module.FailureRemoteScanFailed || results[2].Error == "" {
		t.Errorf("failure kind not carried: %+v", results[2])
	}
	if results[0].Result != "m1:a.example" {
		t.Errorf("unexpected result payload %v", results[0].Result)
	}
}

func TestOrchestrator_RunBoundsConcurrency(t *testing.T) {
	t.Parallel()
	m := &stubModule{id: "m", delay: 20 * time.Millisecond}
	o := newTestOrchestrator(t, OrchestratorConfig{Concurrency: 2}, m)

	hosts := make([]string, 8)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("h%d.example", i)
	}
	if _, err := o.Run(context.Background(), targets(t, hosts...)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := m.maxSeen.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent analyses, saw %d", got)
	}
}

func TestOrchestrator_RunSelectsModules(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, OrchestratorConfig{Concurrency: 2}, &stubModule{id: "m1"}, &stubModule{id: "m2"})

	results, err := o.Run(context.Background(), targets(t, "a.example"), "m2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || results[0].Module != "m2" {
		t.Fatalf("expected only m2, got %+v", results)
	}
	if _, err := o.Run(context.Background(), targets(t, "a.example"), "nope"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
	if _, err := o.Run(context.Background(), nil); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
}

func TestOrchestrator_AnalyseTimeout(t *testing.T) {
	t.Parallel()
	m := &stubModule{id: "slow", delay: time.Second}
	o := newTestOrchestrator(t, OrchestratorConfig{Concurrency: 1, AnalyseTimeout: 30 * time.Millisecond}, m)

	results, err := o.Run(context.Background(), targets(t, "a.example"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].OK || results[0].Kind != module.FailureTimeout {
		t.Fatalf("expected timeout failure, got %+v", results[0])
	}
}

// ─── Jobs ──────────────────────────────────────────────────────────────

func waitForJob(t *testing.T, o *Orchestrator, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j := o.GetJob(id)
		if j != nil && (j.Status == JobDone || j.Status == JobFailed || j.Status == JobCanceled) {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestOrchestrator_StartJob_Lifecycle(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, OrchestratorConfig{Concurrency: 2, JobEventBuffer: 64}, &stubModule{id: "m"})

	job, err := o.StartJob(context.Background(), []string{"a.example", "https://b.example/x"}, nil)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if job.ID == "" || job.Total != 2 {
		t.Fatalf("unexpected job %+v", job)
	}

	var (
		statuses []JobStatus
		results  int
	)
	for ev := range job.Events {
		switch ev.Type {
		case JobEventStatus:
			statuses = append(statuses, ev.Status)
		case JobEventResult:
			results++
			if ev.Result == nil || !ev.Result.OK {
				t.Errorf("unexpected result event %+v", ev)
			}
		}
	}
	if results != 2 {
		t.Errorf("expected 2 result events, got %d", results)
	}
	want := []JobStatus{JobPending, JobRunning, JobDone}
	if fmt.Sprint(statuses) != fmt.Sprint(want) {
		t.Errorf("expected statuses %v, got %v", want, statuses)
	}

	final := o.GetJob(job.ID)
	if final.Status != JobDone || final.Processed != 2 || len(final.Results) != 2 || final.EndedAt.IsZero() {
		t.Errorf("unexpected final job %+v", final)
	}
}

func TestOrchestrator_StartJob_AllFailed(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, OrchestratorConfig{Concurrency: 1}, &stubModule{id: "m", fail: map[string]bool{"a.example": true}})

	job, err := o.StartJob(context.Background(), []string{"a.example"}, nil)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	final := waitForJob(t, o, job.ID)
	if final.Status != JobFailed || final.Error == "" {
		t.Fatalf("expected failed job, got %+v", final)
	}
}

func TestOrchestrator_StartJob_InvalidInput(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, OrchestratorConfig{}, &stubModule{id: "m"})
	if _, err := o.StartJob(context.Background(), nil, nil); !errors.Is(err, ErrNoTargets) {
		t.Errorf("expected ErrNoTargets, got %v", err)
	}
	if _, err := o.StartJob(context.Background(), []string{"http://"}, nil); err == nil {
		t.Error("expected error for a target without host")
	}
	if _, err := o.StartJob(context.Background(), []string{"a.example"}, []string{"x"}); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("expected ErrUnknownModule, got %v", err)
	}
}

func TestOrchestrator_CancelJob(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, OrchestratorConfig{Concurrency: 1}, &stubModule{id: "m", delay: 5 * time.Second})

	job, err := o.StartJob(context.Background(), []string{"a.example"}, nil)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if !o.CancelJob(job.ID) {
		t.Fatal("expected running job to be cancelable")
	}
	final := waitForJob(t, o, job.ID)
	if final.Status != JobCanceled {
		t.Fatalf("expected canceled job, got %+v", final)
	}
	if o.CancelJob("unknown") {
		t.Error("unknown job must not be cancelable")
	}
	if o.GetJob("unknown") != nil {
		t.Error("expected nil for unknown job")
	}
	if len(o.ListJobs()) != 1 {
		t.Errorf("expected one listed job")
	}
}

func TestOrchestrator_CloseFinishesOnceAndRejectsWork(t *testing.T) {
	t.Parallel()
	m := &stubModule{id: "m", delay: 20 * time.Millisecond}
	o := NewOrchestrator(OrchestratorConfig{Concurrency: 4}, nil, nil, m)
	if err := o.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.Run(context.Background(), targets(t, "a.example", "b.example"))
	}()
	time.Sleep(5 * time.Millisecond)

	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()
	if err := o.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if m.finishes.Load() != 1 {
		t.Errorf("expected exactly one Finish, got %d", m.finishes.Load())
	}
	if m.inFlight.Load() != 0 {
		t.Errorf("Finish ran while analyses were in flight")
	}
	if _, err := o.Run(context.Background(), targets(t, "a.example")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

// ─── With the real module ──────────────────────────────────────────────

func TestOrchestrator_MozillaModuleEndToEnd(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/analyze":
			fmt.Fprintf(w, `{"status_code":200,"scan_id":"%s-scan","grade":"A"}`, r.URL.Query().Get("host"))
		case "/api/v1/getScanResults":
			fmt.Fprintf(w, `{"scan":"%s"}`, r.URL.Query().Get("scan"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg, err := LoadConfig(writeConfigFile(t, fmt.Sprintf("modules:\n  mozilla_observatory:\n    base_url: %s/api/v1\n", srv.URL)))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	wc, _ := webclient.NewNetHTTPClient(webclient.Config{}, nil, srv.Client())
	bus := events.NewBus(nil)
	sub := bus.Subscribe(64, events.KindAnalyseResult)
	store := &testutil.DummyStore{}
	mc := &module.Context{Config: cfg, Bus: bus, Storage: store, HTTP: wc}

	o := NewOrchestrator(OrchestratorConfig{Concurrency: 2}, mc, nil, mozilla.New())
	if err := o.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer o.Close()

	results, err := o.Run(context.Background(), targets(t, "a.example", "b.example"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, r := range results {
		if !r.OK {
			t.Fatalf("%s failed: %s", r.Hostname, r.Error)
		}
		res := r.Result.(mozilla.Result)
		if *res.Tests != fmt.Sprintf(`{"scan":"%s-scan"}`, r.Hostname) {
			t.Errorf("unexpected tests for %s: %s", r.Hostname, *res.Tests)
		}
	}
	if len(store.Written()) != 2 {
		t.Errorf("expected 2 stored rows, got %d", len(store.Written()))
	}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.C:
			if ev.Module.ID() != mozilla.ID {
				t.Errorf("unexpected module on event: %s", ev.Module.ID())
			}
		case <-time.After(time.Second):
			t.Fatal("missing analyse result event")
		}
	}
}
