package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"evroute/internal/logging"
)

func TestMetricPath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/v1/runs", "/v1/runs"},
		{"/v1/runs/5b1c2a52-7c4e-4c84-9a57-0b6b8f1f8a11/iterations", "/v1/runs/{id}/iterations"},
		{"/v1/runs/not-an-id", "/v1/runs/not-an-id"},
	}
	for _, tc := range cases {
		if got := metricPath(tc.in); got != tc.want {
			t.Fatalf("metricPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLogMiddlewareRecordsStatus(t *testing.T) {
	logger := logging.NewWithOutput(&discard{}, "debug", "json")
	h := logMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status %d", rr.Code)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
