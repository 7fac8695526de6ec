// Package demoserver is a local stand-in for the Mozilla Observatory API. It
// answers analyze and getScanResults for any host, and every host can be
// moved between posture versions so repeated scans show changes.
package demoserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type scanRecord struct {
	host    string
	version int
}

// DemoServer serves the Observatory endpoints under /api/v1.
type DemoServer struct {
	cfg  Config
	fail map[string]bool

	mu       sync.RWMutex
	versions map[string]int // host -> current version
	scans    map[int]scanRecord
	nextScan int
}

// NewDemoServer creates a new demo server instance.
func NewDemoServer(cfg Config) *DemoServer {
	if cfg.InitialVersion < 1 {
		cfg.InitialVersion = 1
	}
	fail := make(map[string]bool, len(cfg.FailHosts))
	for _, h := range cfg.FailHosts {
		fail[strings.ToLower(h)] = true
	}
	return &DemoServer{
		cfg:      cfg,
		fail:     fail,
		versions: make(map[string]int),
		scans:    make(map[int]scanRecord),
		nextScan: 1,
	}
}

// Handler returns the routes without listening, for tests and embedding.
func (s *DemoServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/analyze", s.analyzeHandler)
	mux.HandleFunc("/api/v1/getScanResults", s.scanResultsHandler)

	// Control endpoints for version switching
	mux.HandleFunc("/demo/set-version", s.setVersionHandler)
	mux.HandleFunc("/demo/get-versions", s.getVersionsHandler)
	mux.HandleFunc("/demo/bump-all", s.bumpAllVersionsHandler)
	mux.HandleFunc("/demo/reset", s.resetVersionsHandler)
	return mux
}

// Start starts the demo server.
func (s *DemoServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	fmt.Printf("Demo Observatory starting on http://localhost%s/api/v1\n", addr)
	fmt.Printf("Version controls at http://localhost%s/demo/get-versions\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *DemoServer) versionOf(host string) int {
	if v, ok := s.versions[host]; ok {
		return v
	}
	return s.cfg.InitialVersion
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// analyzeHandler answers like POST /api/v1/analyze?host=.
func (s *DemoServer) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	host := strings.ToLower(r.URL.Query().Get("host"))
	if host == "" {
		http.Error(w, "missing host", http.StatusBadRequest)
		return
	}
	if s.fail[host] {
		writeJSON(w, map[string]any{"error": "scan-failed", "state": "FAILED"})
		return
	}

	s.mu.Lock()
	version := s.versionOf(host)
	id := s.nextScan
	s.nextScan++
	s.scans[id] = scanRecord{host: host, version: version}
	s.mu.Unlock()

	p := profileFor(version)
	passed := p.passed()
	writeJSON(w, map[string]any{
		"scan_id":              id,
		"status_code":          http.StatusOK,
		"state":                "FINISHED",
		"grade":                p.Grade,
		"likelihood_indicator": p.LikelihoodIndicator,
		"score":                p.Score,
		"tests_passed":         passed,
		"tests_failed":         len(p.Tests) - passed,
		"tests_quantity":       len(p.Tests),
	})
}

// scanResultsHandler answers like GET /api/v1/getScanResults?scan=.
func (s *DemoServer) scanResultsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("scan"))
	if err != nil {
		http.Error(w, "Invalid scan id", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	rec, ok := s.scans[id]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "scan not found", http.StatusNotFound)
		return
	}
	writeJSON(w, profileFor(rec.version).Tests)
}

// setVersionHandler sets the version for a specific host.
func (s *DemoServer) setVersionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	host := strings.ToLower(r.FormValue("host"))
	version, err := strconv.Atoi(r.FormValue("version"))
	if err != nil || version < 1 || version > maxVersion() {
		http.Error(w, "Invalid version number", http.StatusBadRequest)
		return
	}
	if host == "" {
		http.Error(w, "missing host", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.versions[host] = version
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"success": true,
		"host":    host,
		"version": version,
	})
}

// HostInfo describes a host the demo server has seen or been told about.
type HostInfo struct {
	Host              string `json:"host"`
	Grade             string `json:"grade"`
	CurrentVersion    int    `json:"current_version"`
	AvailableVersions []int  `json:"available_versions"`
}

// getVersionsHandler returns the current version of every known host.
func (s *DemoServer) getVersionsHandler(w http.ResponseWriter, r *http.Request) {
	available := make([]int, 0, len(Profiles))
	for v := range Profiles {
		available = append(available, v)
	}
	sort.Ints(available)

	s.mu.RLock()
	hosts := make([]HostInfo, 0, len(s.versions))
	for host, v := range s.versions {
		hosts = append(hosts, HostInfo{
			Host:              host,
			Grade:             profileFor(v).Grade,
			CurrentVersion:    v,
			AvailableVersions: available,
		})
	}
	s.mu.RUnlock()

	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Host < hosts[j].Host })
	writeJSON(w, hosts)
}

// bumpAllVersionsHandler moves every known host one version up.
func (s *DemoServer) bumpAllVersionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	top := maxVersion()
	s.mu.Lock()
	for _, rec := range s.scans {
		if _, ok := s.versions[rec.host]; !ok {
			s.versions[rec.host] = s.cfg.InitialVersion
		}
	}
	for host := range s.versions {
		// Cap at max available version
		s.versions[host] = min(s.versions[host]+1, top)
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"success": true,
		"message": "All versions bumped",
	})
}

// resetVersionsHandler forgets every version override.
func (s *DemoServer) resetVersionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	s.versions = make(map[string]int)
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"success": true,
		"message": fmt.Sprintf("All versions reset to %d", s.cfg.InitialVersion),
	})
}
