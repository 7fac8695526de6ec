package mozilla

import (
	"github.com/raysh454/webaudit/internal/observatory"
	"github.com/raysh454/webaudit/internal/storage"
)

// Result is the canonical record of one analysed domain. Tests is set
// exactly when ScanID names a scan (not missing, blank or zero).
type Result struct {
	URL                 string  `json:"url"`
	Grade               string  `json:"grade"`
	LikelihoodIndicator string  `json:"likelihood_indicator"`
	Score               float64 `json:"score"`
	ScanID              *string `json:"scan_id"`
	StatusCode          *int    `json:"status_code"`
	TestsFailed         int     `json:"tests_failed"`
	TestsPassed         int     `json:"tests_passed"`
	TestsQuantity       int     `json:"tests_quantity"`

	// Tests is the per-test detail document as compact JSON text.
	Tests *string `json:"tests"`
}

// Schema is the column layout installed for the module.
var Schema = storage.Schema{
	{Field: "url", Label: "URL"},
	{Field: "grade", Label: "Grade"},
	{Field: "likelihood_indicator", Label: "Likelihood Indicator"},
	{Field: "score", Label: "Score"},
	{Field: "scan_id", Label: "Scan ID"},
	{Field: "status_code", Label: "Status code"},
	{Field: "tests_failed", Label: "Tests failed"},
	{Field: "tests_passed", Label: "Test passed"},
	{Field: "tests_quantity", Label: "Test quantity"},
	{Field: "tests", Label: "Tests"},
}

func newResult(hostname string, n observatory.Normalized, tests *string) Result {
	status := n.StatusCode
	return Result{
		URL:                 hostname,
		Grade:               n.Grade,
		LikelihoodIndicator: n.LikelihoodIndicator,
		Score:               n.Score,
		ScanID:              n.ScanID,
		StatusCode:          &status,
		TestsFailed:         n.TestsFailed,
		TestsPassed:         n.TestsPassed,
		TestsQuantity:       n.TestsQuantity,
		Tests:               tests,
	}
}

// Row implements storage.Row. Nil pointers become NULL.
func (r Result) Row() map[string]any {
	row := map[string]any{
		"url":                  r.URL,
		"grade":                r.Grade,
		"likelihood_indicator": r.LikelihoodIndicator,
		"score":                r.Score,
		"scan_id":              nil,
		"status_code":          nil,
		"tests_failed":         r.TestsFailed,
		"tests_passed":         r.TestsPassed,
		"tests_quantity":       r.TestsQuantity,
		"tests":                nil,
	}
	if r.ScanID != nil {
		row["scan_id"] = *r.ScanID
	}
	if r.StatusCode != nil {
		row["status_code"] = *r.StatusCode
	}
	if r.Tests != nil {
		row["tests"] = *r.Tests
	}
	return row
}

// Summary is the short form printed on the result log line.
type Summary struct {
	URL         string  `json:"url"`
	Grade       string  `json:"grade"`
	Score       float64 `json:"score"`
	TestsFailed int     `json:"tests_failed"`
	TestsPassed int     `json:"tests_passed"`
}

func (r Result) Summary() Summary {
	return Summary{
		URL:         r.URL,
		Grade:       r.Grade,
		Score:       r.Score,
		TestsFailed: r.TestsFailed,
		TestsPassed: r.TestsPassed,
	}
}
