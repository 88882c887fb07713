package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistriesAreIndependent(t *testing.T) {
	// Two instances must not panic on duplicate registration and must not
	// share state.
	a := NewRegistry()
	b := NewRegistry()
	a.FramesRead.Inc()
	_ = b
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := NewRegistry()
	reg.ConnectionsActive.Set(3)
	reg.FramesRead.Inc()

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := string(body)
	if !strings.Contains(out, "rc_connections_active 3") {
		t.Errorf("gauge missing from exposition:\n%s", out)
	}
	if !strings.Contains(out, "rc_frames_read_total 1") {
		t.Errorf("counter missing from exposition:\n%s", out)
	}
}
