package obs

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	appInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "charassets",
			Subsystem: "app",
			Name:      "info",
			Help:      "Static app info for deployment verification.",
		},
		[]string{"service", "version"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charassets",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the metrics endpoint.",
		},
		[]string{"method", "route", "code"},
	)

	netRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charassets",
			Subsystem: "net",
			Name:      "requests_total",
			Help:      "Outbound requests by operation and outcome.",
		},
		[]string{"op", "result"},
	)

	probeVariantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charassets",
			Subsystem: "probe",
			Name:      "characters_total",
			Help:      "Characters probed, by whether any variant was confirmed.",
		},
		[]string{"result"},
	)

	syncItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "charassets",
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Asset sync items by outcome.",
		},
		[]string{"result"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "charassets",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage", "result"},
	)
)

func init() {
	prometheus.MustRegister(appInfo, httpRequestsTotal, netRequestsTotal, probeVariantsTotal, syncItemsTotal, stageDuration)
}

func SetAppInfo(service string) {
	svc := strings.TrimSpace(service)
	if svc == "" {
		svc = "charassets"
	}
	ver := strings.TrimSpace(os.Getenv("APP_VERSION"))
	if ver == "" {
		ver = "dev"
	}
	appInfo.WithLabelValues(svc, ver).Set(1)
}

// MetricsMiddleware records request count.
func MetricsMiddleware(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.code)).Inc()
	})
}

// routeLabel keeps the route label bounded: only the served paths get their
// own series.
func routeLabel(path string) string {
	switch strings.TrimRight(strings.TrimSpace(path), "/") {
	case "/metrics":
		return "/metrics"
	case "/healthz":
		return "/healthz"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.code = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// RecordNet counts one outbound request. op is fetch/probe/load/download.
func RecordNet(op string, ok bool) {
	res := "ok"
	if !ok {
		res = "miss"
	}
	netRequestsTotal.WithLabelValues(op, res).Inc()
}

func RecordProbedCharacter(confirmed bool) {
	res := "confirmed"
	if !confirmed {
		res = "fallback"
	}
	probeVariantsTotal.WithLabelValues(res).Inc()
}

// RecordSyncItem result is one of uploaded/skipped/failed.
func RecordSyncItem(result string) {
	syncItemsTotal.WithLabelValues(result).Inc()
}

func RecordStage(stage string, start time.Time, err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	stageDuration.WithLabelValues(stage, res).Observe(time.Since(start).Seconds())
}

// Push sends the default registry to a Prometheus pushgateway. Batch runs exit
// before a scrape would see them, so this is the only way their counters survive.
func Push(ctx context.Context, gatewayURL, job string) error {
	gatewayURL = strings.TrimSpace(gatewayURL)
	if gatewayURL == "" {
		return nil
	}
	job = strings.TrimSpace(job)
	if job == "" {
		return errors.New("pushgateway job name empty")
	}
	return push.New(gatewayURL, job).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
}
