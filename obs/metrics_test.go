package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func requestCount(t *testing.T, method, route, code string) float64 {
	t.Helper()
	var m dto.Metric
	if err := httpRequestsTotal.WithLabelValues(method, route, code).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/metrics":          "/metrics",
		"/metrics/":         "/metrics",
		"/healthz":          "/healthz",
		"":                  "other",
		"/":                 "other",
		"/wp-admin/x.php":   "other",
		"/metrics/../a/b/c": "other",
	}
	for in, want := range cases {
		if got := routeLabel(in); got != want {
			t.Fatalf("routeLabel(%q)=%q want %q", in, got, want)
		}
	}
}

func TestMetricsMiddlewareFoldsUnknownPaths(t *testing.T) {
	h := MetricsMiddleware(http.NotFoundHandler())
	before := requestCount(t, http.MethodGet, "other", "404")
	for _, p := range []string{"/scan-a", "/scan-b", "/scan-c"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	after := requestCount(t, http.MethodGet, "other", "404")
	if after-before != 3 {
		t.Fatalf("other counter moved by %v", after-before)
	}
}
