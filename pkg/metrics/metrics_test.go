package metrics

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry(t *testing.T) {
	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestRecordRun(t *testing.T) {
	finished := time.Unix(1704067200, 0)
	RecordRun(finished, true, 42, 1)

	if got := testutil.ToFloat64(lastRunTimestamp); got != 1704067200 {
		t.Errorf("last run timestamp = %v", got)
	}
	if got := testutil.ToFloat64(lastRunSuccess); got != 1 {
		t.Errorf("last run success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(lastRunRecords); got != 42 {
		t.Errorf("last run records = %v, want 42", got)
	}

	RecordRun(finished, false, 0, 3)
	if got := testutil.ToFloat64(lastRunSuccess); got != 0 {
		t.Errorf("last run success = %v, want 0", got)
	}
}

func TestHandler(t *testing.T) {
	RecordRun(time.Now(), true, 1, 0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wxm_last_run_records") {
		t.Error("metrics output missing wxm_last_run_records")
	}
}

func TestWriteTextfile(t *testing.T) {
	RecordRun(time.Now(), true, 7, 0)
	path := filepath.Join(t.TempDir(), "wxm.prom")

	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "wxm_last_run_records 7") {
		t.Errorf("textfile missing run gauge:\n%s", data)
	}
}
