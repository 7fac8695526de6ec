// Package observatory talks to the Mozilla HTTP Observatory API. A scan is
// submitted for a hostname and, when the service hands out a scan id, the
// per-test details are fetched in a second call.
package observatory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raysh454/webaudit/internal/logging"
	"github.com/raysh454/webaudit/internal/webclient"
)

const (
	endpointAnalyze    = "analyze"
	endpointScanResult = "getScanResults"
)

// Client issues both Observatory calls through a WebClient. It keeps no
// per-call state and is safe for concurrent use.
type Client struct {
	wc      webclient.WebClient
	baseURL string
	hidden  bool
	timeout time.Duration
	logger  logging.Logger
}

func NewClient(cfg Config, wc webclient.WebClient, logger logging.Logger) (*Client, error) {
	if wc == nil {
		return nil, errors.New("observatory: nil webclient")
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("observatory: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("observatory: negative timeout %s", cfg.Timeout)
	}
	return &Client{
		wc:      wc,
		baseURL: base,
		hidden:  cfg.Hidden,
		timeout: cfg.Timeout,
		logger:  logger.With(logging.Field{Key: "component", Value: "observatory_client"}),
	}, nil
}

// SubmitScan asks the service to scan req.Hostname and decodes the answer.
func (c *Client) SubmitScan(ctx context.Context, req ScanRequest) (sub *Submission, err error) {
	if strings.TrimSpace(req.Hostname) == "" {
		return nil, errors.New("observatory: empty hostname")
	}
	start := time.Now()
	defer func() {
		recordResponseTime(endpointAnalyze, time.Since(start))
		recordRequest(endpointAnalyze, err)
	}()

	payload, err := json.Marshal(struct {
		Hidden bool `json:"hidden"`
	}{Hidden: c.hidden})
	if err != nil {
		return nil, fmt.Errorf("encode analyze body: %w", err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	c.logger.Debug("submitting scan", logging.Field{Key: "host", Value: req.Hostname})
	body, err := c.call(ctx, endpointAnalyze, &webclient.Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/" + endpointAnalyze + "?host=" + url.QueryEscape(req.Hostname),
		Headers: headers,
		Body:    payload,
	})
	if err != nil {
		return nil, err
	}

	sub = &Submission{}
	if err := json.Unmarshal(body, sub); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", endpointAnalyze, ErrDecode, err)
	}
	return sub, nil
}

// FetchScanDetails returns the compact JSON text of the scan's per-test
// results. NoScan returns nil without a network call.
func (c *Client) FetchScanDetails(ctx context.Context, ref ScanRef) (tests *string, err error) {
	scan, ok := ref.(Scan)
	if !ok {
		return nil, nil
	}
	start := time.Now()
	defer func() {
		recordResponseTime(endpointScanResult, time.Since(start))
		recordRequest(endpointScanResult, err)
	}()

	c.logger.Debug("fetching scan results", logging.Field{Key: "scan_id", Value: scan.ID})
	body, err := c.call(ctx, endpointScanResult, &webclient.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/" + endpointScanResult + "?scan=" + url.QueryEscape(scan.ID),
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, bytes.TrimSpace(body)); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", endpointScanResult, ErrDecode, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%s: %w: empty body", endpointScanResult, ErrDecode)
	}
	s := buf.String()
	return &s, nil
}

func (c *Client) call(ctx context.Context, endpoint string, req *webclient.Request) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.wc.Do(ctx, req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%s: %w: %w", endpoint, ErrTimeout, err)
		}
		return nil, fmt.Errorf("%s: %w: %w", endpoint, ErrTransport, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%s: %w: nil response", endpoint, ErrTransport)
	}
	// The service reports errors as JSON documents on non-2xx answers; those
	// are decoded like any other body.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("unexpected status",
			logging.Field{Key: "endpoint", Value: endpoint},
			logging.Field{Key: "status", Value: resp.StatusCode})
		if !json.Valid(resp.Body) {
			return nil, fmt.Errorf("%s: %w: status %d with a non-JSON body", endpoint, ErrDecode, resp.StatusCode)
		}
	}
	return resp.Body, nil
}
