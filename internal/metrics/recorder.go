package metrics

import (
	"strconv"

	"github.com/jackzampolin/brieflink/internal/providers"
)

// Recorder records per-call and per-page observations.
// A nil *Recorder is valid and records nothing, so components can run
// without metrics in tests.
type Recorder struct {
	m *Metrics
}

// NewRecorder creates a recorder over m. A nil m yields a no-op recorder.
func NewRecorder(m *Metrics) *Recorder {
	if m == nil {
		return nil
	}
	return &Recorder{m: m}
}

// RecordOCRCall records one engine call.
func (r *Recorder) RecordOCRCall(provider string, result *providers.OCRResult, err error) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil || result == nil || !result.Success {
		status = "error"
	}
	r.m.OCRCallsTotal.WithLabelValues(provider, status).Inc()
	if result == nil {
		return
	}
	r.m.OCRCallDuration.WithLabelValues(provider).Observe(result.ExecutionTime.Seconds())
	if result.CostUSD > 0 {
		r.m.OCRCostUSD.WithLabelValues(provider).Add(result.CostUSD)
	}
}

// RecordPage records a worker outcome. Confidence is observed for completed pages only.
func (r *Recorder) RecordPage(outcome string, confidence float64) {
	if r == nil {
		return
	}
	r.m.PagesTotal.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		r.m.PageConfidence.Observe(confidence)
	}
}

// RecordRerender records which render won a low-confidence retry.
func (r *Recorder) RecordRerender(keptRetry bool) {
	if r == nil {
		return
	}
	kept := "primary"
	if keptRetry {
		kept = "retry"
	}
	r.m.RerendersTotal.WithLabelValues(kept).Inc()
}

// BatchStarted and BatchFinished track batches in flight.
func (r *Recorder) BatchStarted() {
	if r == nil {
		return
	}
	r.m.BatchesInFlight.Inc()
}

func (r *Recorder) BatchFinished(status string) {
	if r == nil {
		return
	}
	r.m.BatchesInFlight.Dec()
	r.m.BatchesFinished.WithLabelValues(status).Inc()
}

// RecordIndexRun records an index extraction result status.
func (r *Recorder) RecordIndexRun(status string) {
	if r == nil {
		return
	}
	r.m.IndexRunsTotal.WithLabelValues(status).Inc()
}

// RecordIngest records pages upserted from a bundle.
func (r *Recorder) RecordIngest(pages int) {
	if r == nil {
		return
	}
	r.m.IngestPagesTotal.Add(float64(pages))
}

// RecordIngestSkip records a skipped bundle or response.
func (r *Recorder) RecordIngestSkip(reason string) {
	if r == nil {
		return
	}
	r.m.IngestSkipped.WithLabelValues(reason).Inc()
}

// RecordArbitration records one run and its decision outcomes.
func (r *Recorder) RecordArbitration(linked, needsReview int) {
	if r == nil {
		return
	}
	r.m.ArbitrationRuns.Inc()
	r.m.DecisionsTotal.WithLabelValues("link").Add(float64(linked))
	r.m.DecisionsTotal.WithLabelValues("needs_review").Add(float64(needsReview))
}

// RecordHTTP records one served request.
func (r *Recorder) RecordHTTP(method, route string, code int) {
	if r == nil {
		return
	}
	r.m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
