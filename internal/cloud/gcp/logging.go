package gcp

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andywolf/pyshim/internal/security"
)

// Severity levels for structured logs
type Severity string

const (
	SeverityDefault  Severity = "DEFAULT"
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// LogEntry represents a structured log entry for Cloud Logging
type LogEntry struct {
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component"`
	Labels    map[string]string      `json:"logging.googleapis.com/labels,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LoggerInterface defines the interface for structured logging operations
type LoggerInterface interface {
	Log(severity Severity, message string, fields map[string]interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(labels map[string]string) LoggerInterface
	Flush() error
	Close() error
}

// CloudLogger writes one JSON object per line in the structured format the
// Cloud Logging agent (and Cloud Run) pick up from stderr. Every message and
// label value passes through a LogSanitizer first.
type CloudLogger struct {
	writer    io.Writer
	component string
	labels    map[string]string
	sanitizer *security.LogSanitizer
	minLevel  Severity
	state     *loggerState
}

// loggerState is shared between a logger and the children made by With.
type loggerState struct {
	mu      sync.Mutex
	closed  bool
	flushFn func() error
}

// CloudLoggerOption allows configuring the CloudLogger
type CloudLoggerOption func(*CloudLogger)

// WithWriter sets a custom writer for log output
func WithWriter(w io.Writer) CloudLoggerOption {
	return func(cl *CloudLogger) {
		cl.writer = w
	}
}

// WithComponent sets the component label
func WithComponent(component string) CloudLoggerOption {
	return func(cl *CloudLogger) {
		cl.component = component
	}
}

// WithLabels adds custom labels to all log entries
func WithLabels(labels map[string]string) CloudLoggerOption {
	return func(cl *CloudLogger) {
		for k, v := range labels {
			cl.labels[k] = v
		}
	}
}

// WithSanitizer replaces the default sanitizer, e.g. one that knows a
// runtime secret.
func WithSanitizer(s *security.LogSanitizer) CloudLoggerOption {
	return func(cl *CloudLogger) {
		cl.sanitizer = s
	}
}

// WithVerbose enables DEBUG entries.
func WithVerbose(verbose bool) CloudLoggerOption {
	return func(cl *CloudLogger) {
		if verbose {
			cl.minLevel = SeverityDebug
		} else {
			cl.minLevel = SeverityInfo
		}
	}
}

// WithFlushFunc sets a custom flush function
func WithFlushFunc(fn func() error) CloudLoggerOption {
	return func(cl *CloudLogger) {
		cl.state.flushFn = fn
	}
}

// NewCloudLogger creates a new CloudLogger writing to stderr.
func NewCloudLogger(opts ...CloudLoggerOption) *CloudLogger {
	cl := &CloudLogger{
		writer:    os.Stderr,
		component: "pyshim",
		labels:    map[string]string{},
		sanitizer: security.NewLogSanitizer(),
		minLevel:  SeverityInfo,
		state:     &loggerState{},
	}

	for _, opt := range opts {
		opt(cl)
	}

	return cl
}

// With returns a child logger that adds labels to every entry. The child
// shares the parent's writer and closed state.
func (cl *CloudLogger) With(labels map[string]string) LoggerInterface {
	merged := make(map[string]string, len(cl.labels)+len(labels))
	for k, v := range cl.labels {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	return &CloudLogger{
		writer:    cl.writer,
		component: cl.component,
		labels:    merged,
		sanitizer: cl.sanitizer,
		minLevel:  cl.minLevel,
		state:     cl.state,
	}
}

// Log writes a structured log entry
func (cl *CloudLogger) Log(severity Severity, message string, fields map[string]interface{}) {
	if severity == SeverityDebug && cl.minLevel != SeverityDebug {
		return
	}

	cl.state.mu.Lock()
	defer cl.state.mu.Unlock()

	if cl.state.closed {
		return
	}

	entry := LogEntry{
		Severity:  severity,
		Message:   cl.sanitizer.Sanitize(message),
		Timestamp: time.Now().UTC(),
		Component: cl.component,
		Fields:    fields,
	}
	if len(cl.labels) > 0 {
		entry.Labels = cl.sanitizer.SanitizeMap(cl.labels)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(cl.writer, `{"severity":"ERROR","message":"failed to marshal log entry: %v"}`+"\n", err)
		return
	}
	fmt.Fprintf(cl.writer, "%s\n", data)
}

// Debugf writes a DEBUG level log entry
func (cl *CloudLogger) Debugf(format string, args ...interface{}) {
	cl.Log(SeverityDebug, fmt.Sprintf(format, args...), nil)
}

// Infof writes an INFO level log entry
func (cl *CloudLogger) Infof(format string, args ...interface{}) {
	cl.Log(SeverityInfo, fmt.Sprintf(format, args...), nil)
}

// Warningf writes a WARNING level log entry
func (cl *CloudLogger) Warningf(format string, args ...interface{}) {
	cl.Log(SeverityWarning, fmt.Sprintf(format, args...), nil)
}

// Errorf writes an ERROR level log entry
func (cl *CloudLogger) Errorf(format string, args ...interface{}) {
	cl.Log(SeverityError, fmt.Sprintf(format, args...), nil)
}

// Flush ensures all buffered logs are written
func (cl *CloudLogger) Flush() error {
	cl.state.mu.Lock()
	defer cl.state.mu.Unlock()

	if cl.state.closed {
		return nil
	}

	if cl.state.flushFn != nil {
		return cl.state.flushFn()
	}

	// If the writer implements a Sync/Flush method, call it
	if syncer, ok := cl.writer.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}

	return nil
}

// Close flushes remaining logs and marks the logger as closed
func (cl *CloudLogger) Close() error {
	cl.state.mu.Lock()
	defer cl.state.mu.Unlock()

	if cl.state.closed {
		return nil
	}

	cl.state.closed = true

	if cl.state.flushFn != nil {
		return cl.state.flushFn()
	}

	return nil
}

// Ensure CloudLogger implements LoggerInterface
var _ LoggerInterface = (*CloudLogger)(nil)

// NopLogger discards everything. Tests and library callers without a
// logger use it.
type NopLogger struct{}

func (NopLogger) Log(Severity, string, map[string]interface{}) {}
func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Infof(string, ...interface{}) {}
func (NopLogger) Warningf(string, ...interface{}) {}
func (NopLogger) Errorf(string, ...interface{}) {}
func (n NopLogger) With(map[string]string) LoggerInterface { return n }
func (NopLogger) Flush() error { return nil }
func (NopLogger) Close() error { return nil }

var _ LoggerInterface = NopLogger{}
