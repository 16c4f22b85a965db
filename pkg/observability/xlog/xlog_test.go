package xlog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/leasekit/pkg/observability/xlog"
)

// testCleanup 测试辅助函数，在测试结束时执行 cleanup
func testCleanup(t *testing.T, cleanup func() error) {
	t.Helper()
	t.Cleanup(func() {
		if err := cleanup(); err != nil {
			t.Errorf("cleanup error: %v", err)
		}
	})
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := xlog.New().
		SetOutput(&buf).
		SetLevel(xlog.LevelDebug).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	testCleanup(t, cleanup)

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	out := buf.String()
	for _, want := range []string{"debug message", "info message", "warn message", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\noutput: %s", want, out)
		}
	}
}

func TestLogger_DynamicLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := xlog.New().SetOutput(&buf).Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	testCleanup(t, cleanup)

	ctx := context.Background()
	derived := logger.With(xlog.Component("registry"))

	derived.Debug(ctx, "hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatal("debug message should be filtered at info level")
	}

	logger.SetLevel(xlog.LevelDebug)
	derived.Debug(ctx, "visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatal("derived logger should follow parent level change")
	}
	if got := logger.GetLevel(); got != xlog.LevelDebug {
		t.Errorf("GetLevel() = %v, want DEBUG", got)
	}
	if !logger.Enabled(ctx, xlog.LevelDebug) {
		t.Error("Enabled(DEBUG) = false after SetLevel")
	}
}

func TestLogger_JSONAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := xlog.New().
		SetOutput(&buf).
		SetFormat("JSON").
		SetAttrs(xlog.Component("leasectl")).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	testCleanup(t, cleanup)

	logger.Info(context.Background(), "lock acquired",
		xlog.LockKey("item-A"),
		xlog.Holder("h-1"),
		xlog.Waited(1500*time.Millisecond),
		xlog.HoldCount(2),
		xlog.Err(nil),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	checks := map[string]any{
		"msg":             "lock acquired",
		xlog.KeyComponent: "leasectl",
		xlog.KeyLockKey:   "item-A",
		xlog.KeyHolder:    "h-1",
		xlog.KeyWaitedMS:  float64(1500),
		xlog.KeyHoldCount: float64(2),
	}
	for k, want := range checks {
		if rec[k] != want {
			t.Errorf("%s = %v, want %v", k, rec[k], want)
		}
	}
	if _, ok := rec[xlog.KeyError]; ok {
		t.Error("nil error should not produce an attribute")
	}
}

func TestLogger_EnrichTrace(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := xlog.New().SetOutput(&buf).SetFormat("json").Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	testCleanup(t, cleanup)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.Info(ctx, "with span")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec[xlog.KeyTraceID] != traceID.String() {
		t.Errorf("trace_id = %v, want %s", rec[xlog.KeyTraceID], traceID)
	}
	if rec[xlog.KeySpanID] != spanID.String() {
		t.Errorf("span_id = %v, want %s", rec[xlog.KeySpanID], spanID)
	}
}

func TestLogger_NoEnrich(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := xlog.New().SetOutput(&buf).SetEnrich(false).Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	testCleanup(t, cleanup)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	logger.Info(trace.ContextWithSpanContext(context.Background(), sc), "plain")

	if strings.Contains(buf.String(), xlog.KeyTraceID) {
		t.Errorf("trace_id injected with enrich disabled: %s", buf.String())
	}
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		builder *xlog.Builder
		want    error
	}{
		{"unknown level", xlog.New().SetLevelString("verbose"), xlog.ErrUnknownLevel},
		{"unknown format", xlog.New().SetFormat("xml"), xlog.ErrUnknownFormat},
		{"empty rotation file", xlog.New().SetRotation(" ", 0, 0, 0), xlog.ErrEmptyFilename},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.builder.Build()
			if !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuilder_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leasekit.log")
	logger, cleanup, err := xlog.New().SetRotation(path, 1, 1, 1).Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	logger.Info(context.Background(), "to file")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup error: %v", err)
	}
	// cleanup 幂等
	if err := cleanup(); err != nil {
		t.Fatalf("second cleanup error: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want xlog.Level
	}{
		{"debug", xlog.LevelDebug},
		{" INFO ", xlog.LevelInfo},
		{"", xlog.LevelInfo},
		{"warning", xlog.LevelWarn},
		{"Error", xlog.LevelError},
	}
	for _, tt := range tests {
		got, err := xlog.ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}

	var lvl xlog.Level
	if err := lvl.UnmarshalText([]byte("warn")); err != nil || lvl != xlog.LevelWarn {
		t.Errorf("UnmarshalText(warn) = %v, %v", lvl, err)
	}
}

func TestDefault(t *testing.T) {
	t.Cleanup(xlog.ResetDefault)

	if xlog.Default() == nil {
		t.Fatal("Default() returned nil")
	}

	var buf bytes.Buffer
	logger, _, err := xlog.New().SetOutput(&buf).Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	xlog.SetDefault(logger)
	xlog.SetDefault(nil)

	xlog.Warn(context.Background(), "global warn")
	if !strings.Contains(buf.String(), "global warn") {
		t.Errorf("global Warn not routed to SetDefault logger: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	l := xlog.Discard()
	l.Error(context.Background(), "nothing")
	if l.Enabled(context.Background(), xlog.LevelDebug) {
		t.Error("Discard logger should default to info level")
	}
}
