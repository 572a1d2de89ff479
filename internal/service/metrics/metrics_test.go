package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"wbcscan/internal/dto"
)

func TestObserveRun(t *testing.T) {
	m := New(nil)
	start := time.Now()

	m.ObserveRun(&dto.RunOutcome{
		State:             dto.RunCompleted,
		Processed:         2,
		Skipped:           1,
		DetectionsWritten: 7,
		StartedAt:         start,
		FinishedAt:        start.Add(3 * time.Second),
	})
	m.ObserveRun(&dto.RunOutcome{State: dto.RunAborted, StartedAt: start})
	m.ObserveRun(nil)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed runs = %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("aborted")); got != 1 {
		t.Errorf("aborted runs = %v", got)
	}
	if got := testutil.ToFloat64(m.imagesProcessed); got != 2 {
		t.Errorf("images processed = %v", got)
	}
	if got := testutil.ToFloat64(m.imagesSkipped); got != 1 {
		t.Errorf("images skipped = %v", got)
	}
	if got := testutil.ToFloat64(m.detectionsWritten); got != 7 {
		t.Errorf("detections written = %v", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New(func() int { return 3 })
	m.ObserveUpload(4, 1)
	m.DropProgress()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`wbcscan_uploads_total{result="saved"} 4`,
		`wbcscan_uploads_total{result="rejected"} 1`,
		`wbcscan_progress_dropped_total 1`,
		`wbcscan_progress_viewers 3`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in metrics output", want)
		}
	}
}
