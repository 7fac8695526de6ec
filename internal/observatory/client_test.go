package observatory_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raysh454/webaudit/internal/observatory"
	"github.com/raysh454/webaudit/internal/webclient"
)

func newTestClient(t *testing.T, srv *httptest.Server, cfg observatory.Config) *observatory.Client {
	t.Helper()
	wc, err := webclient.NewNetHTTPClient(webclient.Config{}, nil, srv.Client())
	if err != nil {
		t.Fatalf("NewNetHTTPClient: %v", err)
	}
	cfg.BaseURL = srv.URL + "/api/v1"
	c, err := observatory.NewClient(cfg, wc, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSubmitScan_RequestShape(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("host"); got != "example.com" {
			t.Errorf("expected host=example.com, got %q", got)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"hidden":true}` {
			t.Errorf("unexpected body %s", body)
		}
		w.Write([]byte(`{"scan_id": 42, "status_code": 200, "grade": "B+", "likelihood_indicator": "LOW",
			"score": 80, "tests_failed": 2, "tests_passed": 10, "tests_quantity": 12, "state": "FINISHED"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, observatory.DefaultConfig())
	sub, err := c.SubmitScan(context.Background(), observatory.ScanRequest{Hostname: "example.com"})
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if sub.ScanID == nil || *sub.ScanID != "42" {
		t.Errorf("expected numeric scan id normalized to \"42\", got %v", sub.ScanID)
	}
	if sub.StatusCode == nil || *sub.StatusCode != 200 {
		t.Errorf("unexpected status code %v", sub.StatusCode)
	}
	if sub.Grade != "B+" || sub.Score != 80 || sub.TestsQuantity != 12 || sub.State != "FINISHED" {
		t.Errorf("unexpected submission %+v", sub)
	}
}

func TestSubmitScan_HiddenFalse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"hidden":false}` {
			t.Errorf("unexpected body %s", body)
		}
		w.Write([]byte(`{"status_code": 200}`))
	}))
	defer srv.Close()

	cfg := observatory.DefaultConfig()
	cfg.Hidden = false
	c := newTestClient(t, srv, cfg)
	if _, err := c.SubmitScan(context.Background(), observatory.ScanRequest{Hostname: "a.example"}); err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
}

func TestSubmitScan_DecodeError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, observatory.DefaultConfig())
	_, err := c.SubmitScan(context.Background(), observatory.ScanRequest{Hostname: "a.example"})
	if !errors.Is(err, observatory.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestSubmitScan_TransportErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	c := newTestClient(t, srv, observatory.DefaultConfig())
	srv.Close()

	_, err := c.SubmitScan(context.Background(), observatory.ScanRequest{Hostname: "a.example"})
	if !errors.Is(err, observatory.ErrTransport) {
		t.Fatalf("expected ErrTransport for closed server, got %v", err)
	}
}

func TestSubmitScan_ErrorStatusWithJSONBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid-hostname"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, observatory.DefaultConfig())
	sub, err := c.SubmitScan(context.Background(), observatory.ScanRequest{Hostname: "a.example"})
	if err != nil {
		t.Fatalf("a JSON error document must decode, got %v", err)
	}
	if sub.Error != "invalid-hostname" || sub.StatusCode != nil {
		t.Errorf("unexpected submission %+v", sub)
	}
	if _, ok := observatory.Normalize(sub); ok {
		t.Error("an error document must not normalize")
	}
}

func TestSubmitScan_ErrorStatusWithTextBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, observatory.DefaultConfig())
	_, err := c.SubmitScan(context.Background(), observatory.ScanRequest{Hostname: "a.example"})
	if !errors.Is(err, observatory.ErrDecode) || errors.Is(err, observatory.ErrTransport) {
		t.Fatalf("expected ErrDecode for a 502 text body, got %v", err)
	}
}

func TestSubmitScan_Timeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := observatory.DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	c := newTestClient(t, srv, cfg)

	_, err := c.SubmitScan(context.Background(), observatory.ScanRequest{Hostname: "slow.example"})
	if !errors.Is(err, observatory.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSubmitScan_EmptyHostname(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, observatory.DefaultConfig())
	if _, err := c.SubmitScan(context.Background(), observatory.ScanRequest{Hostname: " "}); err == nil {
		t.Fatal("expected error for empty hostname")
	}
}

func TestFetchScanDetails_NoScanSkipsNetwork(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, observatory.DefaultConfig())
	for _, ref := range []observatory.ScanRef{observatory.NoScan{}, nil} {
		tests, err := c.FetchScanDetails(context.Background(), ref)
		if err != nil || tests != nil {
			t.Fatalf("expected nil, nil for %T, got %v, %v", ref, tests, err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("expected no network calls, got %d", n)
	}
}

func TestFetchScanDetails_CompactsBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/getScanResults" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("scan"); got != "abc" {
			t.Errorf("expected scan=abc, got %q", got)
		}
		w.Write([]byte("{\n  \"csp\": \"pass\",\n  \"hsts\": {\"score\": 5}\n}\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, observatory.DefaultConfig())
	tests, err := c.FetchScanDetails(context.Background(), observatory.Scan{ID: "abc"})
	if err != nil {
		t.Fatalf("FetchScanDetails: %v", err)
	}
	if tests == nil || *tests != `{"csp":"pass","hsts":{"score":5}}` {
		t.Fatalf("unexpected tests blob %v", tests)
	}
}

func TestFetchScanDetails_DecodeError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"csp":`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, observatory.DefaultConfig())
	_, err := c.FetchScanDetails(context.Background(), observatory.Scan{ID: "abc"})
	if !errors.Is(err, observatory.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestFetchScanDetails_ErrorStatusWithJSONBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{ "error": "scan-not-found" }`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, observatory.DefaultConfig())
	tests, err := c.FetchScanDetails(context.Background(), observatory.Scan{ID: "abc"})
	if err != nil {
		t.Fatalf("FetchScanDetails: %v", err)
	}
	if tests == nil || *tests != `{"error":"scan-not-found"}` {
		t.Fatalf("unexpected tests blob %v", tests)
	}
}

func TestFetchScanDetails_ErrorStatusWithTextBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv, observatory.DefaultConfig())
	if _, err := c.FetchScanDetails(context.Background(), observatory.Scan{ID: "abc"}); !errors.Is(err, observatory.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()
	wc, _ := webclient.NewNetHTTPClient(webclient.Config{}, nil, nil)

	if _, err := observatory.NewClient(observatory.DefaultConfig(), nil, nil); err == nil {
		t.Error("expected error for nil webclient")
	}
	if _, err := observatory.NewClient(observatory.Config{BaseURL: "not a url"}, wc, nil); err == nil {
		t.Error("expected error for invalid base url")
	}
	if _, err := observatory.NewClient(observatory.Config{Timeout: -time.Second}, wc, nil); err == nil {
		t.Error("expected error for negative timeout")
	}
	if _, err := observatory.NewClient(observatory.Config{}, wc, nil); err != nil {
		t.Errorf("empty config should fall back to the default base url: %v", err)
	}
}
