package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"varianthunter/internal/core"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+" "+msg+" "+fmt.Sprint(args...))
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args...) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args...) }

func (l *recordingLogger) contains(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

type metricCall struct {
	op      string
	success bool
}

type recordingMetrics struct {
	mu    sync.Mutex
	calls []metricCall
}

func (m *recordingMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, metricCall{op: op, success: success})
}

func TestServiceObservability(t *testing.T) {
	var buf bytes.Buffer
	tracer := core.NewJSONTracer(&buf)
	logger := &recordingLogger{}
	metrics := &recordingMetrics{}
	svc := newTestService(t, core.WithTracer(tracer), core.WithLogger(logger), core.WithMetricsRecorder(metrics))
	ctx := context.Background()

	mustAdd(t, svc, input())
	if _, err := svc.RemoveAnalysis(ctx, 9); err == nil {
		t.Fatalf("expected failure for unknown id")
	}
	if _, err := svc.SetOpt(ctx, true, core.OptIsDescSorting, []bool{true, true}); err != nil {
		t.Fatalf("set opt: %v", err)
	}

	entries := tracer.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(entries))
	}
	if entries[0].Operation != "add_analysis" || entries[0].Status != "success" {
		t.Fatalf("unexpected first span %+v", entries[0])
	}
	if entries[1].Operation != "remove_analysis" || entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("unexpected error span %+v", entries[1])
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 json lines, got %d", len(lines))
	}
	var decoded core.JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[2]), &decoded); err != nil || decoded.Operation != "set_opt" {
		t.Fatalf("unexpected json line %q: %v", lines[2], err)
	}

	if len(metrics.calls) != 3 || metrics.calls[1] != (metricCall{op: "remove_analysis", success: false}) {
		t.Fatalf("unexpected metrics %+v", metrics.calls)
	}
	if !logger.contains("WARN operation failed") {
		t.Fatalf("expected failure to be logged")
	}
	if !logger.contains("WARN rule warning") {
		t.Fatalf("expected rule warning to be logged")
	}
	if !logger.contains("DEBUG operation applied") {
		t.Fatalf("expected debug trace of applied operation")
	}
}

func TestPrometheusRecorderIgnoresEmptyOperation(t *testing.T) {
	rec := core.NewPrometheusRecorder()
	rec.Observe(context.Background(), "", true, time.Millisecond)
	rec.Observe(context.Background(), "add_analysis", true, time.Millisecond)
}

func TestJSONTracerKeepsRecentSpans(t *testing.T) {
	tracer := core.NewJSONTracer(nil)
	for i := 0; i < 1030; i++ {
		_, span := tracer.Start(context.Background(), fmt.Sprintf("op_%d", i))
		span.End(nil)
	}
	entries := tracer.Entries()
	if len(entries) != 1024 {
		t.Fatalf("expected 1024 retained spans, got %d", len(entries))
	}
	if entries[0].Operation != "op_6" || entries[len(entries)-1].Operation != "op_1029" {
		t.Fatalf("expected the most recent spans, got %s..%s", entries[0].Operation, entries[len(entries)-1].Operation)
	}
}
