package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusOK)
	if _, err := rw.Write([]byte("missing")); err != nil {
		t.Fatal(err)
	}

	if rw.statusCode != http.StatusNotFound || rec.Code != http.StatusNotFound {
		t.Errorf("status = %d/%d, want 404", rw.statusCode, rec.Code)
	}
	if rw.bytesWritten != 7 {
		t.Errorf("bytesWritten = %d, want 7", rw.bytesWritten)
	}
	if rw.Unwrap() != rec {
		t.Error("Unwrap() should return the recorder")
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/jobs", "/api/jobs"},
		{"a\nb\rc", "a b c"},
		{"bell\x07\x1b[31mred", "bell[31mred"},
		{"tab\tkept", "tab\tkept"},
		{"nul\x00", "nul"},
	}
	for _, tt := range tests {
		if got := sanitizeLogField(tt.in); got != tt.want {
			t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.1.1.1:80", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.3"}, "1.1.1.1:80", "10.0.0.3"},
		{"remote addr", nil, "192.168.1.5:51234", "192.168.1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { logging.SetFormat("") })

	handler := Logger(LoggingConfig{LogHealthChecks: false})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("health check logged: %s", buf.String())
	}

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/jobs/sidecar%0A", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if line["method"] != "PUT" || line["status"] != float64(http.StatusAccepted) || line["bytes"] != float64(2) {
		t.Errorf("log line = %v", line)
	}
	if strings.Contains(line["path"].(string), "\n") {
		t.Errorf("path not sanitized: %q", line["path"])
	}
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Metrics(DefaultMetricsConfig()))
	router.HandleFunc("/api/assets/{id}/thumbnail", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(http.ResponseWriter, *http.Request) {})

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/assets/{id}/thumbnail", "404")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/assets/"+id+"/thumbnail", nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("requests counted = %v, want 3", got)
	}
	if n := testutil.CollectAndCount(metrics.HTTPRequestsTotal, "media_pipeline_http_requests_total"); n == 0 {
		t.Error("no request series recorded")
	}
}

func TestRouteTemplateUnmatched(t *testing.T) {
	if got := routeTemplate(httptest.NewRequest(http.MethodGet, "/x", nil)); got != "unmatched" {
		t.Errorf("routeTemplate() = %q", got)
	}
}
