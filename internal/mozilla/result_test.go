package mozilla_test

import (
	"encoding/json"
	"testing"

	"github.com/raysh454/webaudit/internal/mozilla"
)

func TestResult_RowCoversSchema(t *testing.T) {
	t.Parallel()
	id, status, tests := "abc", 200, `{"csp":"pass"}`
	r := mozilla.Result{URL: "a.example", Grade: "A", ScanID: &id, StatusCode: &status, Tests: &tests}

	row := r.Row()
	if len(row) != len(mozilla.Schema) {
		t.Fatalf("row has %d fields, schema %d", len(row), len(mozilla.Schema))
	}
	for _, f := range mozilla.Schema.Fields() {
		if _, ok := row[f]; !ok {
			t.Errorf("row misses schema field %q", f)
		}
	}
	if row["scan_id"] != "abc" || row["status_code"] != 200 || row["tests"] != tests {
		t.Errorf("pointer fields not dereferenced: %v", row)
	}

	empty := mozilla.Result{}.Row()
	for _, f := range []string{"scan_id", "status_code", "tests"} {
		if empty[f] != nil {
			t.Errorf("%s should be untyped nil, got %#v", f, empty[f])
		}
	}
}

func TestResult_JSONNames(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(mozilla.Result{URL: "a.example"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, f := range mozilla.Schema.Fields() {
		if _, ok := m[f]; !ok {
			t.Errorf("json misses %q: %s", f, b)
		}
	}
	if m["tests"] != nil || m["scan_id"] != nil {
		t.Errorf("absent scan must encode as null: %s", b)
	}
}

func TestResult_Summary(t *testing.T) {
	t.Parallel()
	r := mozilla.Result{URL: "a.example", Grade: "B", Score: 70, TestsFailed: 3, TestsPassed: 9, TestsQuantity: 12}
	want := mozilla.Summary{URL: "a.example", Grade: "B", Score: 70, TestsFailed: 3, TestsPassed: 9}
	if got := r.Summary(); got != want {
		t.Fatalf("Summary() = %+v, want %+v", got, want)
	}
}
