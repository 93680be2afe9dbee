package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "charassets", "warn", "")
	logger.Info("hidden")
	logger.Warn("shown", "character", "op042")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["service"] != "charassets" || rec["character"] != "op042" {
		t.Fatalf("record %v", rec)
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "svc", "", "TEXT").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") || !strings.Contains(buf.String(), "service=svc") {
		t.Fatalf("text output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestSamplerRatio(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	if r := samplerRatio(); r != 0.25 {
		t.Fatalf("ratio %v", r)
	}
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "7")
	if r := samplerRatio(); r != 1 {
		t.Fatalf("out of range ratio %v", r)
	}
}

func TestPushWithoutGatewayIsNoop(t *testing.T) {
	if err := Push(context.Background(), " ", "job"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := Push(context.Background(), "http://127.0.0.1:1", " "); err == nil {
		t.Fatalf("expected error for empty job")
	}
}
