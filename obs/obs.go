package obs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type Shutdown func(ctx context.Context) error

// Init installs the process logger and, when OTEL_EXPORTER_OTLP_ENDPOINT is
// set, an OTLP trace exporter. Logs go to stderr; stdout belongs to command output.
func Init(serviceName string) (Shutdown, *slog.Logger) {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = "charassets"
	}

	logger := NewLogger(os.Stderr, serviceName, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	slog.SetDefault(logger)
	SetAppInfo(serviceName)

	shutdownTrace, err := initTracing(serviceName)
	if err != nil {
		logger.Error("init tracing failed", "err", err)
	}
	return func(ctx context.Context) error {
		if shutdownTrace == nil {
			return nil
		}
		return shutdownTrace(ctx)
	}, logger
}

// NewLogger builds a slog logger; format "text" gives logfmt-style output for
// interactive use, anything else JSON.
func NewLogger(w io.Writer, service, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", service)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// samplerRatio reads OTEL_TRACES_SAMPLER_ARG; a smart probe run issues one span
// per character, so large registries usually want < 1.
func samplerRatio() float64 {
	raw := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG"))
	if raw == "" {
		return 1
	}
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil || r < 0 || r > 1 {
		return 1
	}
	return r
}

func initTracing(serviceName string) (Shutdown, error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, errors.Join(err, exp.Shutdown(ctx))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplerRatio()))),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// WrapHTTP instruments the metrics/health endpoint of a long batch run.
func WrapHTTP(serviceName string, next http.Handler) http.Handler {
	if next == nil {
		return http.NotFoundHandler()
	}
	return MetricsMiddleware(otelhttp.NewHandler(next, serviceName))
}

// HTTPTransport wraps base with client-side tracing; mirror loads, probes and
// downloads all become child spans of the current character/item span.
func HTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Host
		}),
	)
}

func Tracer(name string) trace.Tracer {
	if n := strings.TrimSpace(name); n != "" {
		return otel.Tracer(n)
	}
	return otel.Tracer("charassets")
}
