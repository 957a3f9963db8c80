package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
		"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decoding %q: %v", buf.String(), err)
	}
	return m
}

func TestLoggerAddsTraceIDs(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupLogger("debug", "json", &buf)

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.With(slog.String("feed", "slack")).InfoContext(ctx, "poll")
	m := decode(t, &buf)
	if m["trace_id"] != tid.String() || m["span_id"] != sid.String() {
		t.Errorf("record = %v, want trace ids", m)
	}
	if m["feed"] != "slack" {
		t.Errorf("feed attr lost: %v", m)
	}

	buf.Reset()
	logger.Info("no span")
	if _, ok := decode(t, &buf)["trace_id"]; ok {
		t.Error("trace_id added without a span")
	}
}

func TestForRequest(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithLogger(context.Background(), base)

	ForRequest(ctx, "1203814934510858240").Info("processing")
	if got := decode(t, &buf)["request_id"]; got != "1203814934510858240" {
		t.Errorf("request_id = %v", got)
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Error("FromContext without logger should return the default")
	}
}

func TestSampler(t *testing.T) {
	for _, ratio := range []float64{0, 1, 2} {
		if got := (TracerConfig{SampleRatio: ratio}).sampler().Description(); !strings.Contains(got, "root:AlwaysOnSampler") {
			t.Errorf("ratio %v: sampler = %s", ratio, got)
		}
	}
	if got := (TracerConfig{SampleRatio: 0.25}).sampler().Description(); !strings.Contains(got, "TraceIDRatioBased{0.25}") {
		t.Errorf("sampler = %s", got)
	}
}

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
