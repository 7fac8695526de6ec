// Package server is the HTTP + WebSocket API surface of webaudit. It exposes
// the registered domain modules, on-demand and background analyses, stored
// results and the live event bus.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raysh454/webaudit/internal/app"
	"github.com/raysh454/webaudit/internal/events"
	"github.com/raysh454/webaudit/internal/logging"
	"github.com/raysh454/webaudit/internal/module"
	"github.com/raysh454/webaudit/internal/storage"
)

const eventStreamBuffer = 128

type Server struct {
	cfg      Config
	app      *app.Application
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewServer serves a started Application.
func NewServer(cfg Config, a *app.Application) (*Server, error) {
	if a == nil {
		return nil, errors.New("server: application is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = a.Logger
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}

	s := &Server{
		cfg:    cfg,
		app:    a,
		router: chi.NewRouter(),
		logger: logger.With(logging.Field{Key: "component", Value: "server"}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowOrigin(origin)
		},
	}

	s.routes()
	return s, nil
}

// Application returns the served application for advanced use (tests, etc.).
func (s *Server) Application() *app.Application {
	return s.app
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/analyse", s.optionsHandler("POST"))
	r.Options("/jobs", s.optionsHandler("GET, POST"))
	r.Options("/jobs/{jobID}", s.optionsHandler("GET, DELETE"))
	r.Options("/results/{module}", s.optionsHandler("GET"))
	r.Options("/results/{module}/schema", s.optionsHandler("GET"))
	r.Options("/results/{module}/diff", s.optionsHandler("GET"))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Modules
	r.Get("/modules", s.handleListModules)
	r.Post("/analyse", s.handleAnalyse)

	// Jobs over REST
	r.Post("/jobs", s.handleStartJob)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{jobID}", s.handleGetJob)
	r.Delete("/jobs/{jobID}", s.handleCancelJob)

	// Stored results
	r.Get("/results/{module}", s.handleListResults)
	r.Get("/results/{module}/schema", s.handleGetSchema)
	r.Get("/results/{module}/diff", s.handleResultDiff)

	// WebSockets
	r.Get("/ws/jobs", s.handleJobWS)
	r.Get("/ws/events", s.handleEventsWS)
}

func (s *Server) allowOrigin(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.AllowedOrigins) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin := r.Header.Get("Origin"); origin != "" && s.allowOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// Close shuts down the application and its shared services.
func (s *Server) Close(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps orchestrator and storage errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrClosed), errors.Is(err, app.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrStoreNotInstalled), errors.Is(err, storage.ErrNoRecords):
		return http.StatusNotFound
	case errors.Is(err, app.ErrNoTargets), errors.Is(err, app.ErrUnknownModule), errors.Is(err, storage.ErrInvalidIdentifier):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(r *http.Request, def int) int {
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// --- HTTP handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, readable := s.app.Reader()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Modules: len(s.app.Orch.Modules()),
		Storage: readable,
	})
}

// Modules

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	mods := s.app.Orch.Modules()
	s.logger.Info("listed modules", logging.Field{Key: "count", Value: len(mods)})
	writeJSON(w, http.StatusOK, mods)
}

func (s *Server) handleAnalyse(w http.ResponseWriter, r *http.Request) {
	var body AnalyseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.logger.Warn("decoding analyse body", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	target, err := module.ParseTarget(body.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.app.Orch.Run(r.Context(), []module.Target{target}, body.Modules...)
	if err != nil {
		s.logger.Warn("analysing target", logging.Field{Key: "target", Value: body.Target}, logging.Field{Key: "error", Value: err.Error()})
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("analysed target", logging.Field{Key: "target", Value: target.Hostname()}, logging.Field{Key: "results", Value: len(results)})
	writeJSON(w, http.StatusOK, results)
}

// Jobs (REST)

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var body StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.logger.Warn("decoding start job body", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job, err := s.app.Orch.StartJob(r.Context(), body.Targets, body.Modules)
	if err != nil {
		s.logger.Warn("starting job", logging.Field{Key: "error", Value: err.Error()})
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			// Anything else StartJob rejects is a bad target.
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	s.logger.Info("started job", logging.Field{Key: "job_id", Value: job.ID}, logging.Field{Key: "total", Value: job.Total})
	writeJSON(w, http.StatusAccepted, s.app.Orch.GetJob(job.ID))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.app.Orch.GetJob(jobID)
	if job == nil {
		s.logger.Warn("getting job: not found", logging.Field{Key: "job_id", Value: jobID})
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Info("got job", logging.Field{Key: "job_id", Value: job.ID})
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.app.Orch.CancelJob(jobID) {
		writeError(w, http.StatusNotFound, "no running job with that id")
		return
	}
	s.logger.Info("canceled job", logging.Field{Key: "job_id", Value: jobID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.app.Orch.ListJobs()
	s.logger.Info("listed jobs", logging.Field{Key: "count", Value: len(jobs)})
	writeJSON(w, http.StatusOK, jobs)
}

// Stored results

func (s *Server) reader(w http.ResponseWriter) (storage.Reader, bool) {
	rd, ok := s.app.Reader()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "storage is disabled")
	}
	return rd, ok
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	rd, ok := s.reader(w)
	if !ok {
		return
	}
	moduleID := chi.URLParam(r, "module")
	limit := queryLimit(r, 50)

	var (
		recs []storage.Record
		err  error
	)
	if url := r.URL.Query().Get("url"); url != "" {
		recs, err = rd.History(r.Context(), moduleID, url, limit)
	} else {
		recs, err = rd.List(r.Context(), moduleID, limit)
	}
	if err != nil {
		s.logger.Warn("listing results", logging.Field{Key: "module", Value: moduleID}, logging.Field{Key: "error", Value: err.Error()})
		writeError(w, statusFor(err), err.Error())
		return
	}
	if recs == nil {
		recs = []storage.Record{}
	}
	s.logger.Info("listed results", logging.Field{Key: "module", Value: moduleID}, logging.Field{Key: "count", Value: len(recs)})
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	rd, ok := s.reader(w)
	if !ok {
		return
	}
	moduleID := chi.URLParam(r, "module")
	schema, err := rd.Schema(r.Context(), moduleID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handleResultDiff(w http.ResponseWriter, r *http.Request) {
	rd, ok := s.reader(w)
	if !ok {
		return
	}
	moduleID := chi.URLParam(r, "module")
	url := r.URL.Query().Get("url")
	if url == "" {
		s.logger.Warn("diffing results: missing url query parameter")
		writeError(w, http.StatusBadRequest, "missing url query parameter")
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		field = "tests"
	}

	change, err := storage.FieldChange(r.Context(), rd, moduleID, url, field)
	if err != nil {
		s.logger.Warn("diffing results", logging.Field{Key: "module", Value: moduleID}, logging.Field{Key: "error", Value: err.Error()})
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("diffed results", logging.Field{Key: "module", Value: moduleID}, logging.Field{Key: "url", Value: url}, logging.Field{Key: "changed", Value: change.Changed})
	writeJSON(w, http.StatusOK, change)
}

// WebSockets

// handleJobWS starts a job for the target query parameters and streams its
// events until the job ends.
func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targets := q["target"]
	modules := q["module"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	job, err := s.app.Orch.StartJob(r.Context(), targets, modules)
	if err != nil {
		s.logger.Warn("starting job", logging.Field{Key: "error", Value: err.Error()})
		_ = conn.WriteJSON(ErrorResponse{Error: err.Error()})
		return
	}

	s.logger.Info("started job", logging.Field{Key: "job_id", Value: job.ID})
	_ = conn.WriteJSON(s.app.Orch.GetJob(job.ID))

	for ev := range job.Events {
		if err := conn.WriteJSON(ev); err != nil {
			// Assume client disconnected; cancel job
			s.app.Orch.CancelJob(job.ID)
			return
		}
	}
}

func parseKinds(names []string) ([]events.Kind, error) {
	kinds := make([]events.Kind, 0, len(names))
	for _, name := range names {
		found := false
		for k := events.KindModuleCreated; k <= events.KindModuleEvent; k++ {
			if k.String() == name {
				kinds = append(kinds, k)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown event kind %q", name)
		}
	}
	return kinds, nil
}

// handleEventsWS streams bus events, optionally filtered by ?kind=.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query()["kind"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Subscribed before the upgrade so nothing emitted after the handshake
	// is missed.
	sub := s.app.Bus.Subscribe(eventStreamBuffer, kinds...)
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	// The read loop only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
