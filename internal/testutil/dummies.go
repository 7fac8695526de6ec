// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raysh454/webaudit/internal/events"
	"github.com/raysh454/webaudit/internal/logging"
	"github.com/raysh454/webaudit/internal/storage"
	"github.com/raysh454/webaudit/internal/webclient"
)

// ─── Logger ────────────────────────────────────────────────────────────

// LoggedResult is one call to Logger.Result.
type LoggedResult struct {
	Title   string
	Summary any
	URL     string
}

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu      sync.Mutex
	Errors  []string
	Infos   []string
	Debugs  []string
	Warns   []string
	Results []LoggedResult
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) Result(title string, summary any, url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Results = append(l.Results, LoggedResult{Title: title, Summary: summary, URL: url})
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ErrorMessages returns a copy of the recorded error messages.
func (l *DummyLogger) ErrorMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.Errors...)
}

// LoggedResults returns a copy of the recorded Result calls.
func (l *DummyLogger) LoggedResults() []LoggedResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LoggedResult(nil), l.Results...)
}

// ─── Events ────────────────────────────────────────────────────────────

// RecordingEmitter implements events.Emitter and keeps every event in order.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *RecordingEmitter) Emit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything emitted so far.
func (r *RecordingEmitter) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Names returns the event names in emission order.
func (r *RecordingEmitter) Names() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Name
	}
	return out
}

// Count returns how many events of kind were emitted.
func (r *RecordingEmitter) Count(kind events.Kind) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// ─── Storage ───────────────────────────────────────────────────────────

// InstalledSchema is one call to Store.InstallStore.
type InstalledSchema struct {
	ModuleID string
	Schema   storage.Schema
}

// WrittenRow is one call to Store.WriteOne.
type WrittenRow struct {
	ModuleID string
	Row      storage.Row
}

// DummyStore implements storage.Store in memory.
// Set WriteErr or InstallErr to make the corresponding call fail.
type DummyStore struct {
	mu         sync.Mutex
	Installs   []InstalledSchema
	Writes     []WrittenRow
	InstallErr error
	WriteErr   error
	Closed     bool
}

func (s *DummyStore) InstallStore(_ context.Context, moduleID string, schema storage.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InstallErr != nil {
		return s.InstallErr
	}
	s.Installs = append(s.Installs, InstalledSchema{ModuleID: moduleID, Schema: schema})
	return nil
}

func (s *DummyStore) WriteOne(_ context.Context, moduleID string, row storage.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Writes = append(s.Writes, WrittenRow{ModuleID: moduleID, Row: row})
	return nil
}

func (s *DummyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Written returns a copy of the recorded writes.
func (s *DummyStore) Written() []WrittenRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WrittenRow(nil), s.Writes...)
}

// ─── WebClient ─────────────────────────────────────────────────────────

// DummyWebClient implements webclient.WebClient.
// By default it returns body "{}" with status 200. Handler, when set,
// answers instead. Set FailURLs[url] = true to force an error for a
// specific URL.
type DummyWebClient struct {
	ResponseDelay time.Duration
	FailURLs      map[string]bool
	Handler       func(req *webclient.Request) (*webclient.Response, error)

	mu       sync.Mutex
	Requests []*webclient.Request
	Closed   bool
}

func (d *DummyWebClient) Do(ctx context.Context, req *webclient.Request) (*webclient.Response, error) {
	if req == nil {
		return nil, webclient.ErrNilRequest
	}
	if d.ResponseDelay > 0 {
		select {
		case <-time.After(d.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.Requests = append(d.Requests, req)
	d.mu.Unlock()

	if d.FailURLs != nil && d.FailURLs[req.URL] {
		return nil, errors.New("dummy fetch fail for " + req.URL)
	}
	if d.Handler != nil {
		return d.Handler(req)
	}

	return &webclient.Response{
		Request:    req,
		Body:       []byte("{}"),
		StatusCode: 200,
		FetchedAt:  time.Now(),
	}, nil
}

func (d *DummyWebClient) Get(ctx context.Context, url string) (*webclient.Response, error) {
	return d.Do(ctx, &webclient.Request{Method: "GET", URL: url})
}

func (d *DummyWebClient) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}

// Sent returns a copy of the recorded requests.
func (d *DummyWebClient) Sent() []*webclient.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*webclient.Request(nil), d.Requests...)
}
