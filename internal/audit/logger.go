package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/butterflyhq/butterfly/internal/db"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Analysis lifecycle events
	LogAnalysisRequested(ctx context.Context, correlationID, subject string) error
	LogAnalysisCompleted(ctx context.Context, correlationID string, summary AnalysisSummary, duration time.Duration) error
	LogAnalysisFailed(ctx context.Context, correlationID, outcome string, err error, duration time.Duration) error

	// LogRateLimited logs a request rejected by the rate limiter
	LogRateLimited(ctx context.Context, sourceIP, path string) error

	// System lifecycle events
	LogServerStarted(ctx context.Context, addr string) error
	LogServerShutdown(ctx context.Context, reason string) error
	LogConfigReload(ctx context.Context, err error) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// AnalysisSummary carries the degradation counters of a finished analysis.
type AnalysisSummary struct {
	Steps          int
	StepsReceived  int
	StepsDropped   int
	SearchFailures int
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// Store optionally mirrors every event into a queryable audit table.
	Store db.AuditStore

	// AppLogger receives audit pipeline errors. Defaults to a no-op logger.
	AppLogger *zap.Logger
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
	}
}

const (
	bufferSize    = 100
	flushInterval = time.Second
)

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	rotator     *lumberjack.Logger
	store       db.AuditStore
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	doneCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}

	appLogger := config.AppLogger
	if appLogger == nil {
		appLogger = zap.NewNop()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// Audit log with rotation (always INFO level, append-only)
	rotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger.Named("audit"),
		auditLogger: zap.New(auditCore),
		rotator:     rotator,
		store:       config.Store,
		buffer:      make([]*Event, 0, bufferSize),
		flushTicker: time.NewTicker(flushInterval),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event. A correlation ID on ctx fills an empty one on
// the event.
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= bufferSize {
		return l.flushLocked(ctx)
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked(ctx context.Context) error {
	if len(l.buffer) == 0 {
		return nil
	}

	var firstErr error
	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)

		if l.store != nil {
			if err := l.store.AppendAuditEvent(ctx, toRecord(event)); err != nil {
				l.appLogger.Warn("failed to persist audit event",
					zap.Error(err),
					zap.String("event_type", string(event.EventType)),
				)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	l.buffer = l.buffer[:0]
	return firstErr
}

// toRecord converts an event into its stored form.
func toRecord(e *Event) *db.AuditRecord {
	metadata := "{}"
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			metadata = string(b)
		}
	}
	return &db.AuditRecord{
		CorrelationID: e.CorrelationID,
		EventType:     string(e.EventType),
		Description:   e.Description,
		Resource:      e.Resource,
		Action:        e.Action,
		Result:        string(e.Result),
		SourceIP:      e.SourceIP,
		Error:         e.Error,
		DurationMs:    e.DurationMs,
		Metadata:      metadata,
		Timestamp:     e.Timestamp,
	}
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked(context.Background())
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogAnalysisRequested logs an accepted analysis request
func (l *auditLogger) LogAnalysisRequested(ctx context.Context, correlationID, subject string) error {
	event := NewEvent(EventAnalysisRequested).
		WithCorrelationID(correlationID).
		WithAction("analyze").
		WithResource(subject).
		WithDescription("Causal analysis requested")

	return l.Log(ctx, event)
}

// LogAnalysisCompleted logs a successful analysis along with the counters
// that are not visible in the response body.
func (l *auditLogger) LogAnalysisCompleted(ctx context.Context, correlationID string, summary AnalysisSummary, duration time.Duration) error {
	event := NewEvent(EventAnalysisCompleted).
		WithCorrelationID(correlationID).
		WithAction("analyze").
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("steps", summary.Steps).
		WithMetadata("steps_received", summary.StepsReceived).
		WithMetadata("steps_dropped", summary.StepsDropped).
		WithMetadata("search_failures", summary.SearchFailures).
		WithDescription(fmt.Sprintf("Causal analysis completed with %d steps", summary.Steps))

	return l.Log(ctx, event)
}

// LogAnalysisFailed logs a failed analysis
func (l *auditLogger) LogAnalysisFailed(ctx context.Context, correlationID, outcome string, err error, duration time.Duration) error {
	event := NewEvent(EventAnalysisFailed).
		WithCorrelationID(correlationID).
		WithAction("analyze").
		WithError(err, outcome).
		WithDuration(duration).
		WithDescription("Causal analysis failed")

	return l.Log(ctx, event)
}

// LogRateLimited logs a request denied by the rate limiter
func (l *auditLogger) LogRateLimited(ctx context.Context, sourceIP, path string) error {
	event := NewEvent(EventRateLimitDenied).
		WithSource(sourceIP, "").
		WithResource(path).
		WithResult(ResultDenied).
		WithDescription(fmt.Sprintf("Rate limit exceeded for %s", sourceIP))

	return l.Log(ctx, event)
}

// LogServerStarted logs server startup
func (l *auditLogger) LogServerStarted(ctx context.Context, addr string) error {
	event := NewEvent(EventServerStarted).
		WithResult(ResultSuccess).
		WithMetadata("addr", addr).
		WithDescription(fmt.Sprintf("Server listening on %s", addr))

	return l.Log(ctx, event)
}

// LogServerShutdown logs server shutdown
func (l *auditLogger) LogServerShutdown(ctx context.Context, reason string) error {
	event := NewEvent(EventServerShutdown).
		WithResult(ResultSuccess).
		WithDescription(reason)

	return l.Log(ctx, event)
}

// LogConfigReload logs a configuration reload attempt
func (l *auditLogger) LogConfigReload(ctx context.Context, err error) error {
	event := NewEvent(EventConfigReload).
		WithResult(ResultSuccess).
		WithError(err, "config_invalid").
		WithDescription("Configuration reloaded")

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(context.Background()); err != nil {
		return err
	}
	return l.auditLogger.Sync()
}

// Close stops the flush loop, flushes pending events and closes the file.
// It is safe to call more than once.
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		<-l.doneCh
		l.flushTicker.Stop()

		err = l.Sync()
		if cerr := l.rotator.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// NopLogger discards every event. Used when auditing is disabled.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Log(context.Context, *Event) error                          { return nil }
func (NopLogger) LogAnalysisRequested(context.Context, string, string) error { return nil }
func (NopLogger) LogAnalysisCompleted(context.Context, string, AnalysisSummary, time.Duration) error {
	return nil
}
func (NopLogger) LogAnalysisFailed(context.Context, string, string, error, time.Duration) error {
	return nil
}
func (NopLogger) LogRateLimited(context.Context, string, string) error { return nil }
func (NopLogger) LogServerStarted(context.Context, string) error       { return nil }
func (NopLogger) LogServerShutdown(context.Context, string) error      { return nil }
func (NopLogger) LogConfigReload(context.Context, error) error         { return nil }
func (NopLogger) Sync() error                                          { return nil }
func (NopLogger) Close() error                                         { return nil }

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
