package observatory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ScanRequest struct {
	Hostname string
}

// Submission is the decoded answer of the analyze endpoint.
type Submission struct {
	// ScanID is nil when the service did not hand out a scan. It arrives
	// as a number or a string and is kept in string form.
	ScanID *string `json:"scan_id"`

	// StatusCode is the HTTP status the service saw on the scanned site.
	// Nil or zero marks a failed scan.
	StatusCode *int `json:"status_code"`

	Grade               string  `json:"grade"`
	LikelihoodIndicator string  `json:"likelihood_indicator"`
	Score               float64 `json:"score"`
	TestsFailed         int     `json:"tests_failed"`
	TestsPassed         int     `json:"tests_passed"`
	TestsQuantity       int     `json:"tests_quantity"`

	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Submission) UnmarshalJSON(b []byte) error {
	type plain Submission
	aux := struct {
		*plain
		ScanID json.RawMessage `json:"scan_id"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	id, err := decodeScanID(aux.ScanID)
	if err != nil {
		return err
	}
	s.ScanID = id
	return nil
}

// decodeScanID accepts null, a string or a number. The value is kept as
// sent, so a zero or empty id is still recorded; RefOf decides on the fetch.
func decodeScanID(raw json.RawMessage) (*string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var id string
	switch raw[0] {
	case '"':
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("scan_id: %w", err)
		}
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("scan_id: %w", err)
		}
		id = n.String()
	}
	return &id, nil
}

// ScanRef says whether a second-phase fetch is needed. It is either NoScan
// or Scan.
type ScanRef interface {
	scanRef()
}

type NoScan struct{}

type Scan struct {
	ID string
}

func (NoScan) scanRef() {}
func (Scan) scanRef()   {}

// RefOf maps an optional scan id onto a ScanRef. Missing, blank and zero
// ids carry no scan.
func RefOf(id *string) ScanRef {
	if id == nil {
		return NoScan{}
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return NoScan{}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f == 0 {
		return NoScan{}
	}
	return Scan{ID: *id}
}

// Normalized holds the submission fields of a successful scan.
type Normalized struct {
	Grade               string
	LikelihoodIndicator string
	Score               float64
	ScanID              *string
	StatusCode          int
	TestsFailed         int
	TestsPassed         int
	TestsQuantity       int

	// Ref drives the details fetch.
	Ref ScanRef
}

// Normalize reports false for a nil, missing or zero status code and reads
// nothing else in that case.
func Normalize(s *Submission) (Normalized, bool) {
	if s == nil || s.StatusCode == nil || *s.StatusCode == 0 {
		return Normalized{}, false
	}
	var id *string
	if s.ScanID != nil {
		v := *s.ScanID
		id = &v
	}
	return Normalized{
		Grade:               s.Grade,
		LikelihoodIndicator: s.LikelihoodIndicator,
		Score:               s.Score,
		ScanID:              id,
		StatusCode:          *s.StatusCode,
		TestsFailed:         s.TestsFailed,
		TestsPassed:         s.TestsPassed,
		TestsQuantity:       s.TestsQuantity,
		Ref:                 RefOf(id),
	}, true
}
