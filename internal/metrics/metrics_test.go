package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.FrameShown()
	m.FrameShown()
	m.Analyzed(300*time.Millisecond, 2, 5)
	m.Suppressed()
	m.RemoteFailed(true)
	m.RemoteFailed(false)
	m.EncodeFailed()
	m.DisplayFailed()

	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"frames", m.Frames.Load(), 2},
		{"analyses", m.Analyses.Load(), 1},
		{"rate limited", m.RateLimited.Load(), 1},
		{"remote failures", m.RemoteFailures.Load(), 2},
		{"remote timeouts", m.RemoteTimeouts.Load(), 1},
		{"encode failures", m.EncodeFailures.Load(), 1},
		{"display errors", m.DisplayErrors.Load(), 1},
		{"last faces", m.LastFaces.Load(), 2},
		{"last labels", m.LastLabels.Load(), 5},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(m.latency); n != 1 {
		t.Errorf("Expected 1 latency collector, got %d", n)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FrameShown()
	m.Analyzed(time.Second, 1, 1)
	m.Suppressed()
	m.RemoteFailed(true)
	m.EncodeFailed()
	m.DisplayFailed()
}

func TestHandler(t *testing.T) {
	m := New()
	m.FrameShown()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), "vigil_frames_total 1") {
		t.Errorf("Expected frames gauge in output, got:\n%s", body)
	}
	if !strings.Contains(string(body), "vigil_analysis_latency_seconds") {
		t.Error("Expected latency histogram in output")
	}
}
