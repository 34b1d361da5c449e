package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentCapturesStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/brew", "418"))

	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/brew", "418"))
	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
}

func TestInstrumentDefaultsTo200(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/ok", "200"))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/ok", "200"))
	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
}

func TestSetReady(t *testing.T) {
	SetReady(true)
	if got := testutil.ToFloat64(readyGauge); got != 1 {
		t.Fatalf("ready = %v, want 1", got)
	}
	SetReady(false)
	if got := testutil.ToFloat64(readyGauge); got != 0 {
		t.Fatalf("ready = %v, want 0", got)
	}
}

func TestObserveAuthDecision(t *testing.T) {
	before := testutil.ToFloat64(authDecisions.WithLabelValues("view-reports", "denied"))
	ObserveAuthDecision("view-reports", "denied")
	after := testutil.ToFloat64(authDecisions.WithLabelValues("view-reports", "denied"))
	if after != before+1 {
		t.Fatalf("counter = %v, want %v", after, before+1)
	}
}
