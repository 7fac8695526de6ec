package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/raysh454/webaudit/internal/logging"
	"github.com/raysh454/webaudit/internal/module"
)

var (
	ErrNoTargets     = errors.New("no targets given")
	ErrUnknownModule = errors.New("unknown module")
	ErrClosed        = errors.New("orchestrator closed")
	ErrNotStarted    = errors.New("orchestrator not initialized")
)

type JobEventType string

const (
	JobEventStatus   JobEventType = "status"
	JobEventProgress JobEventType = "progress"
	JobEventResult   JobEventType = "result"
)

type JobEvent struct {
	JobID string       `json:"job_id"`
	Type  JobEventType `json:"type"`

	// For status changes
	Status JobStatus `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`

	// For progress
	Processed int `json:"processed,omitempty"`
	Total     int `json:"total,omitempty"`

	// For results
	Result *TargetResult `json:"result,omitempty"`
}

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

// TargetResult is the outcome of one module on one target.
type TargetResult struct {
	Module   string             `json:"module"`
	Target   string             `json:"target"`
	Hostname string             `json:"hostname"`
	OK       bool               `json:"ok"`
	Kind     module.FailureKind `json:"failure_kind"`
	Error    string             `json:"error,omitempty"`
	Result   any                `json:"result,omitempty"`
}

func newTargetResult(moduleID string, target module.Target, out module.Outcome) TargetResult {
	tr := TargetResult{
		Module:   moduleID,
		Target:   target.String(),
		Hostname: target.Hostname(),
		OK:       out.OK,
		Kind:     out.Kind,
		Result:   out.Result,
	}
	if out.Err != nil {
		tr.Error = out.Err.Error()
	}
	return tr
}

type Job struct {
	ID        string         `json:"id"`
	Targets   []string       `json:"targets"`
	Modules   []string       `json:"modules"`
	Status    JobStatus      `json:"status"`
	Error     string         `json:"error,omitempty"`
	Processed int            `json:"processed"`
	Total     int            `json:"total"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Results   []TargetResult `json:"results,omitempty"`
	Events    chan JobEvent  `json:"-"`
}

// ModuleInfo is the identity surface of a registered module.
type ModuleInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Orchestrator owns the domain modules: it initializes them once, runs them
// over targets with bounded concurrency and finishes them on Close.
type Orchestrator struct {
	cfg     OrchestratorConfig
	mc      *module.Context
	logger  logging.Logger
	modules []module.DomainModule
	sem     chan struct{}

	stateMu     sync.Mutex
	initialized bool
	closed      bool
	running     sync.WaitGroup

	jobsMu     sync.Mutex
	jobs       map[string]*Job
	jobCancels map[string]context.CancelFunc
}

// NewOrchestrator ties together the module context, config and modules.
func NewOrchestrator(cfg OrchestratorConfig, mc *module.Context, logger logging.Logger, modules ...module.DomainModule) *Orchestrator {
	if logger == nil {
		logger = logging.Nop{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.JobEventBuffer <= 0 {
		cfg.JobEventBuffer = 16
	}
	if mc == nil {
		mc = &module.Context{Logger: logger}
	}
	return &Orchestrator{
		cfg:        cfg,
		mc:         mc,
		logger:     logger.With(logging.Field{Key: "component", Value: "orchestrator"}),
		modules:    modules,
		sem:        make(chan struct{}, cfg.Concurrency),
		jobs:       make(map[string]*Job),
		jobCancels: make(map[string]context.CancelFunc),
	}
}

// Init initializes every module. Modules that fail are dropped and their
// errors returned together; the rest stay usable.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.initialized {
		return nil
	}

	var result *multierror.Error
	ready := make([]module.DomainModule, 0, len(o.modules))
	for _, m := range o.modules {
		if err := m.Init(ctx, o.mc); err != nil {
			o.logger.Error("module init failed",
				logging.Field{Key: "module", Value: m.ID()},
				logging.Field{Key: "error", Value: err})
			result = multierror.Append(result, fmt.Errorf("init %s: %w", m.ID(), err))
			continue
		}
		ready = append(ready, m)
	}
	o.modules = ready
	o.initialized = true
	o.logger.Info("modules initialized", logging.Field{Key: "count", Value: len(ready)})
	return result.ErrorOrNil()
}

func (o *Orchestrator) Modules() []ModuleInfo {
	out := make([]ModuleInfo, 0, len(o.modules))
	for _, m := range o.modules {
		out = append(out, ModuleInfo{ID: m.ID(), Name: m.Name()})
	}
	return out
}

func (o *Orchestrator) selectModules(ids []string) ([]module.DomainModule, error) {
	if len(ids) == 0 {
		return o.modules, nil
	}
	byID := make(map[string]module.DomainModule, len(o.modules))
	for _, m := range o.modules {
		byID[m.ID()] = m
	}
	out := make([]module.DomainModule, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, id)
		}
		out = append(out, m)
	}
	return out, nil
}

// begin registers a run so Close waits for it.
func (o *Orchestrator) begin() error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if !o.initialized {
		return ErrNotStarted
	}
	o.running.Add(1)
	return nil
}

// Run analyses every target with the selected modules (all when moduleIDs
// is empty) and returns one result per module and target, ordered by target
// then module.
func (o *Orchestrator) Run(ctx context.Context, targets []module.Target, moduleIDs ...string) ([]TargetResult, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	mods, err := o.selectModules(moduleIDs)
	if err != nil {
		return nil, err
	}
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.running.Done()
	return o.run(ctx, targets, mods, nil), nil
}

func (o *Orchestrator) run(ctx context.Context, targets []module.Target, mods []module.DomainModule, onResult func(TargetResult)) []TargetResult {
	results := make([]TargetResult, len(targets)*len(mods))
	var (
		wg     sync.WaitGroup
		cbMu   sync.Mutex
		launch = func(i int, m module.DomainModule, target module.Target) {
			defer wg.Done()
			select {
			case o.sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = newTargetResult(m.ID(), target, module.Failure(ctx.Err()))
				return
			}
			defer func() { <-o.sem }()

			actx := ctx
			if o.cfg.AnalyseTimeout > 0 {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(ctx, o.cfg.AnalyseTimeout)
				defer cancel()
			}
			results[i] = newTargetResult(m.ID(), target, m.AnalyseDomain(actx, target))
			if onResult != nil {
				cbMu.Lock()
				onResult(results[i])
				cbMu.Unlock()
			}
		}
	)

	for ti, target := range targets {
		for mi, m := range mods {
			wg.Add(1)
			go launch(ti*len(mods)+mi, m, target)
		}
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) emitJobEvent(jobID string, ev JobEvent) {
	o.jobsMu.Lock()
	job, ok := o.jobs[jobID]
	o.jobsMu.Unlock()
	if !ok || job == nil || job.Events == nil {
		return
	}

	// Non-blocking send; drop if buffer is full.
	select {
	case job.Events <- ev:
	default:
	}
}

func (o *Orchestrator) updateJob(jobID string, fn func(j *Job)) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	if j, ok := o.jobs[jobID]; ok {
		fn(j)
	}
}

// StartJob parses rawTargets and analyses them in the background. Progress
// and results are sent on Job.Events, which is closed when the job ends.
func (o *Orchestrator) StartJob(ctx context.Context, rawTargets []string, moduleIDs []string) (*Job, error) {
	if len(rawTargets) == 0 {
		return nil, ErrNoTargets
	}
	targets := make([]module.Target, 0, len(rawTargets))
	for _, raw := range rawTargets {
		t, err := module.ParseTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", raw, err)
		}
		targets = append(targets, t)
	}
	mods, err := o.selectModules(moduleIDs)
	if err != nil {
		return nil, err
	}
	if err := o.begin(); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	job := &Job{
		ID:        jobID,
		Status:    JobPending,
		Total:     len(targets) * len(mods),
		StartedAt: time.Now().UTC(),
		Events:    make(chan JobEvent, o.cfg.JobEventBuffer),
	}
	for _, t := range targets {
		job.Targets = append(job.Targets, t.String())
	}
	for _, m := range mods {
		job.Modules = append(job.Modules, m.ID())
	}

	// Jobs outlive the request that started them.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.jobsMu.Lock()
	o.jobs[jobID] = job
	o.jobCancels[jobID] = cancel
	o.jobsMu.Unlock()

	o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobPending})

	go func() {
		defer o.running.Done()
		defer func() {
			cancel()
			o.jobsMu.Lock()
			delete(o.jobCancels, jobID)
			if j, ok := o.jobs[jobID]; ok {
				j.EndedAt = time.Now().UTC()
				// Close events channel so websocket loop can terminate cleanly
				close(j.Events)
			}
			o.jobsMu.Unlock()
		}()

		o.updateJob(jobID, func(j *Job) { j.Status = JobRunning })
		o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobRunning})

		results := o.run(jobCtx, targets, mods, func(tr TargetResult) {
			var processed int
			o.updateJob(jobID, func(j *Job) {
				j.Processed++
				processed = j.Processed
			})
			res := tr
			o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventResult, Result: &res})
			o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventProgress, Processed: processed, Total: len(targets) * len(mods)})
		})

		status, errMsg := JobDone, ""
		if err := jobCtx.Err(); err != nil {
			status, errMsg = JobCanceled, err.Error()
		} else if failed := countFailed(results); failed == len(results) {
			status, errMsg = JobFailed, fmt.Sprintf("all %d analyses failed", failed)
		}
		o.updateJob(jobID, func(j *Job) {
			j.Status = status
			j.Error = errMsg
			j.Results = results
		})
		o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: status, Error: errMsg})
		o.logger.Info("job finished",
			logging.Field{Key: "job_id", Value: jobID},
			logging.Field{Key: "status", Value: string(status)})
	}()

	return job, nil
}

func countFailed(results []TargetResult) int {
	n := 0
	for _, r := range results {
		if !r.OK {
			n++
		}
	}
	return n
}

// GetJob returns a snapshot of the job, or nil when unknown.
func (o *Orchestrator) GetJob(jobID string) *Job {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return nil
	}
	cp := *j
	cp.Targets = append([]string(nil), j.Targets...)
	cp.Modules = append([]string(nil), j.Modules...)
	cp.Results = append([]TargetResult(nil), j.Results...)
	return &cp
}

func (o *Orchestrator) ListJobs() []*Job {
	o.jobsMu.Lock()
	ids := make([]string, 0, len(o.jobs))
	for id := range o.jobs {
		ids = append(ids, id)
	}
	o.jobsMu.Unlock()

	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		if j := o.GetJob(id); j != nil {
			out = append(out, j)
		}
	}
	return out
}

// JobEvents returns the live event channel of a job.
func (o *Orchestrator) JobEvents(jobID string) (<-chan JobEvent, bool) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return nil, false
	}
	return j.Events, true
}

// CancelJob reports whether a running job with that id was found.
func (o *Orchestrator) CancelJob(jobID string) bool {
	o.jobsMu.Lock()
	cancel := o.jobCancels[jobID]
	o.jobsMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Close cancels running jobs, waits for every analysis to settle and then
// calls Finish on each module exactly once.
func (o *Orchestrator) Close() error {
	o.stateMu.Lock()
	if o.closed {
		o.stateMu.Unlock()
		return nil
	}
	o.closed = true
	initialized := o.initialized
	o.stateMu.Unlock()

	o.jobsMu.Lock()
	for _, cancel := range o.jobCancels {
		cancel()
	}
	o.jobsMu.Unlock()

	o.running.Wait()
	if !initialized {
		return nil
	}

	var result *multierror.Error
	for _, m := range o.modules {
		if err := m.Finish(); err != nil {
			result = multierror.Append(result, fmt.Errorf("finish %s: %w", m.ID(), err))
		}
	}
	return result.ErrorOrNil()
}
