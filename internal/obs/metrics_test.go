package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/metrics":                 "/metrics",
		"/download/":               "/download/",
		"/download/session-01.edf": "/download/:fileName",
		"/download/a.edf?x=1":      "/download/:fileName",
		"/assignFiles":             "/assignFiles",
		"/findPeaks?debug=true":    "/findPeaks",
		"/v1/info":                 "/v1/info",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/download/:fileName", "404"))
	for _, name := range []string{"a.edf", "b.edf"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/download/"+name, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/download/:fileName", "404"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests recorded, got %v", after-before)
	}
	if v := testutil.ToFloat64(httpInFlight); v != 0 {
		t.Fatalf("in-flight gauge not released: %v", v)
	}
}

func TestDomainCounters(t *testing.T) {
	before := testutil.ToFloat64(logins.WithLabelValues("failure"))
	ObserveLogin("failure")
	if got := testutil.ToFloat64(logins.WithLabelValues("failure")); got-before != 1 {
		t.Fatalf("login counter moved by %v", got-before)
	}
	SetReady(true)
	if testutil.ToFloat64(ready) != 1 {
		t.Fatal("ready gauge not set")
	}
	SetReady(false)
	if testutil.ToFloat64(ready) != 0 {
		t.Fatal("ready gauge not cleared")
	}
}

func TestLogRequestWritesJSON(t *testing.T) {
	logger := Logger()
	orig := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(orig)

	LogRequest(map[string]any{"msg": "request_complete", "level": "warn", "status": 418, "ts": "ignored"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["msg"] != "request_complete" || entry["level"] != "warning" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["status"] != float64(418) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("missing ts")
	}
}
