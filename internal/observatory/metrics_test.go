package observatory

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest_OutcomeLabels(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err     error
		outcome string
	}{
		{nil, "ok"},
		{fmt.Errorf("x: %w", ErrTimeout), "timeout"},
		{fmt.Errorf("x: %w", ErrDecode), "decode"},
		{fmt.Errorf("x: %w", ErrTransport), "transport"},
		{errors.New("other"), "error"},
	}
	for _, tc := range cases {
		endpoint := "metrics_test_" + tc.outcome
		counter := observatoryRequests.WithLabelValues(endpoint, tc.outcome)
		before := testutil.ToFloat64(counter)
		recordRequest(endpoint, tc.err)
		if got := testutil.ToFloat64(counter); got != before+1 {
			t.Errorf("%s: expected counter %v, got %v", tc.outcome, before+1, got)
		}
	}
}

func TestRecordResponseTime(t *testing.T) {
	t.Parallel()
	recordResponseTime("metrics_test_latency", 120*time.Millisecond)
	if n := testutil.CollectAndCount(observatoryResponseTime); n == 0 {
		t.Fatal("expected at least one histogram series")
	}
}
