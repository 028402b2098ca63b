package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/butterflyhq/butterfly/internal/db"
)

func newTestLogger(t *testing.T, store db.AuditStore) (Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")

	logger, err := NewLogger(&Config{
		AuditLogPath: path,
		MaxSize:      10,
		MaxBackups:   3,
		Store:        store,
	})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	return string(content)
}

func TestNewLoggerRequiresPath(t *testing.T) {
	_, err := NewLogger(&Config{})
	if err == nil {
		t.Fatal("Expected error for empty audit log path")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.AuditLogPath != "logs/audit.log" {
		t.Errorf("Expected audit log path 'logs/audit.log', got %s", config.AuditLogPath)
	}
	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}
	if config.Store != nil {
		t.Error("Expected no audit store by default")
	}
}

func TestLogEvent(t *testing.T) {
	logger, path := newTestLogger(t, nil)

	ctx := context.Background()
	event := NewEvent(EventAnalysisRequested).
		WithCorrelationID("test-123").
		WithSource("10.1.2.3", "curl/8.0").
		WithResource("Central bank raises interest rates").
		WithResult(ResultPending)

	if err := logger.Log(ctx, event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	logContent := readLog(t, path)
	for _, want := range []string{"test-123", "analysis.requested", "10.1.2.3", "Central bank raises interest rates"} {
		if !strings.Contains(logContent, want) {
			t.Errorf("Log does not contain %q", want)
		}
	}
}

func TestLogUsesContextCorrelationID(t *testing.T) {
	logger, path := newTestLogger(t, nil)

	ctx := WithCorrelationID(context.Background(), "ctx-456")
	if err := logger.Log(ctx, NewEvent(EventAnalysisRequested)); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if !strings.Contains(readLog(t, path), "ctx-456") {
		t.Error("Log does not contain correlation ID from context")
	}
}

func TestLogAnalysisLifecycle(t *testing.T) {
	logger, path := newTestLogger(t, nil)
	ctx := context.Background()

	if err := logger.LogAnalysisRequested(ctx, "req-1", "Oil supply shock"); err != nil {
		t.Fatalf("LogAnalysisRequested failed: %v", err)
	}
	summary := AnalysisSummary{Steps: 3, StepsReceived: 4, StepsDropped: 1, SearchFailures: 1}
	if err := logger.LogAnalysisCompleted(ctx, "req-1", summary, 2*time.Second); err != nil {
		t.Fatalf("LogAnalysisCompleted failed: %v", err)
	}
	if err := logger.LogAnalysisFailed(ctx, "req-2", "parse_error", errors.New("bad json"), time.Second); err != nil {
		t.Fatalf("LogAnalysisFailed failed: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	logContent := readLog(t, path)
	for _, want := range []string{
		"analysis.requested", "analysis.completed", "analysis.failed",
		`\"steps_dropped\":1`, `\"search_failures\":1`, "parse_error", "bad json",
	} {
		if !strings.Contains(logContent, want) {
			t.Errorf("Log does not contain %s", want)
		}
	}
}

func TestLogSystemEvents(t *testing.T) {
	logger, path := newTestLogger(t, nil)
	ctx := context.Background()

	_ = logger.LogServerStarted(ctx, "0.0.0.0:8000")
	_ = logger.LogRateLimited(ctx, "192.0.2.1", "/api/generate")
	_ = logger.LogConfigReload(ctx, errors.New("invalid port"))
	_ = logger.LogServerShutdown(ctx, "signal received")
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	logContent := readLog(t, path)
	for _, want := range []string{
		"system.server_started", "0.0.0.0:8000",
		"ratelimit.denied", "192.0.2.1", "denied",
		"config.reload", "invalid port",
		"system.server_shutdown",
	} {
		if !strings.Contains(logContent, want) {
			t.Errorf("Log does not contain %q", want)
		}
	}
}

func TestLogMirrorsToStore(t *testing.T) {
	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	logger, _ := newTestLogger(t, store)
	ctx := context.Background()

	summary := AnalysisSummary{Steps: 2, StepsReceived: 2}
	if err := logger.LogAnalysisCompleted(ctx, "req-9", summary, 1500*time.Millisecond); err != nil {
		t.Fatalf("LogAnalysisCompleted failed: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	records, err := store.QueryAuditEvents(ctx, db.AuditQuery{CorrelationID: "req-9"})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 stored event, got %d", len(records))
	}
	rec := records[0]
	if rec.EventType != string(EventAnalysisCompleted) || rec.Result != string(ResultSuccess) {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.DurationMs != 1500 {
		t.Errorf("Expected duration 1500ms, got %d", rec.DurationMs)
	}
	if !strings.Contains(rec.Metadata, `"steps":2`) {
		t.Errorf("Expected metadata to contain steps, got %s", rec.Metadata)
	}
}

func TestBufferAutoFlush(t *testing.T) {
	logger, path := newTestLogger(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := logger.LogAnalysisRequested(ctx, "test", "event"); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	// Wait for auto-flush (1 second ticker)
	time.Sleep(1500 * time.Millisecond)

	if len(readLog(t, path)) == 0 {
		t.Error("Audit log is empty after auto-flush")
	}
}

func TestBufferFullFlush(t *testing.T) {
	logger, path := newTestLogger(t, nil)
	ctx := context.Background()

	for i := 0; i < 105; i++ {
		if err := logger.LogRateLimited(ctx, "192.0.2.1", "/api/generate"); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	eventCount := 0
	for _, line := range strings.Split(readLog(t, path), "\n") {
		if strings.TrimSpace(line) != "" {
			eventCount++
		}
	}
	if eventCount != 105 {
		t.Errorf("Expected 105 events, got %d", eventCount)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	logger, path := newTestLogger(t, nil)

	_ = logger.LogServerShutdown(context.Background(), "test")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if !strings.Contains(readLog(t, path), "system.server_shutdown") {
		t.Error("Close did not flush pending events")
	}
}

func TestNopLogger(t *testing.T) {
	var logger Logger = NopLogger{}
	ctx := context.Background()

	if err := logger.LogAnalysisFailed(ctx, "id", "error", errors.New("x"), 0); err != nil {
		t.Errorf("NopLogger returned error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("NopLogger Close returned error: %v", err)
	}
}

func TestCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()

	if id1 == id2 {
		t.Error("Generated correlation IDs should be unique")
	}

	ctx := context.Background()
	if id := GetCorrelationID(ctx); id != "" {
		t.Errorf("Expected empty correlation ID, got %s", id)
	}

	ctx = WithCorrelationID(ctx, "test-correlation-id")
	if id := GetCorrelationID(ctx); id != "test-correlation-id" {
		t.Errorf("Expected 'test-correlation-id', got %s", id)
	}
}

func TestEventBuilderChain(t *testing.T) {
	event := NewEvent(EventAnalysisCompleted).
		WithCorrelationID("corr-123").
		WithSource("10.0.0.1", "test-agent").
		WithResource("Drought in Brazil").
		WithAction("analyze").
		WithDescription("done").
		WithResult(ResultSuccess).
		WithDuration(3*time.Second).
		WithMetadata("steps", 4)

	if event.CorrelationID != "corr-123" {
		t.Errorf("Expected correlation ID 'corr-123', got %s", event.CorrelationID)
	}
	if event.SourceIP != "10.0.0.1" || event.UserAgent != "test-agent" {
		t.Errorf("Unexpected source %s / %s", event.SourceIP, event.UserAgent)
	}
	if event.Resource != "Drought in Brazil" {
		t.Errorf("Expected resource 'Drought in Brazil', got %s", event.Resource)
	}
	if event.Result != ResultSuccess {
		t.Errorf("Expected result 'success', got %s", event.Result)
	}
	if event.DurationMs != 3000 {
		t.Errorf("Expected duration 3000ms, got %d", event.DurationMs)
	}
	if steps, ok := event.Metadata["steps"].(int); !ok || steps != 4 {
		t.Errorf("Expected metadata steps 4, got %v", event.Metadata["steps"])
	}
}

func TestWithErrorMarksFailure(t *testing.T) {
	event := NewEvent(EventConfigReload).WithResult(ResultSuccess).WithError(nil, "ignored")
	if event.Result != ResultSuccess {
		t.Errorf("nil error must not change result, got %s", event.Result)
	}

	event.WithError(errors.New("boom"), "config_invalid")
	if event.Result != ResultFailure || event.ErrorCode != "config_invalid" {
		t.Errorf("Expected failure with code, got %s / %s", event.Result, event.ErrorCode)
	}
}
