package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jackzampolin/brieflink/internal/providers"
)

func TestRecorder(t *testing.T) {
	m := New()
	r := NewRecorder(m)

	r.RecordOCRCall("mock", &providers.OCRResult{Success: true, ExecutionTime: time.Second, CostUSD: 0.5}, nil)
	r.RecordOCRCall("mock", nil, errors.New("boom"))
	r.RecordPage("completed", 0.9)
	r.RecordPage("skipped", 0)
	r.RecordRerender(true)
	r.BatchStarted()
	r.BatchFinished("completed")
	r.RecordArbitration(3, 1)

	if got := testutil.ToFloat64(m.OCRCallsTotal.WithLabelValues("mock", "success")); got != 1 {
		t.Errorf("success calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OCRCallsTotal.WithLabelValues("mock", "error")); got != 1 {
		t.Errorf("error calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OCRCostUSD.WithLabelValues("mock")); got != 0.5 {
		t.Errorf("cost = %v, want 0.5", got)
	}
	if got := testutil.ToFloat64(m.BatchesInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("link")); got != 3 {
		t.Errorf("links = %v, want 3", got)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.RecordPage("completed", 1)
	r.RecordOCRCall("x", nil, nil)
	r.BatchFinished("failed")
	if NewRecorder(nil) != nil {
		t.Error("NewRecorder(nil) should be nil")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	NewRecorder(m).RecordPage("failed", 0)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `brieflink_pages_processed_total{outcome="failed"} 1`) {
		t.Errorf("exposition missing pages counter:\n%s", body)
	}
}
