package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tasknest/tasknest-cli/internal/api"
)

// sensitiveParams are query parameter names that should be scrubbed from trace output.
// This list is intentionally specific to avoid hiding useful debug info.
var sensitiveParams = map[string]bool{
	"access_token":  true,
	"accesstoken":   true,
	"refresh_token": true,
	"refreshtoken":  true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"password":      true,
	"passwd":        true,
	"secret":        true,
}

// TraceWriter outputs human-readable trace information to stderr.
// It formats output with timestamps relative to session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

func (t *TraceWriter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] "+format+"\n", append([]any{elapsed}, args...)...)
}

// WriteOperationStart writes an operation start trace line.
// Format: [0.234s] Calling Todos.List
func (t *TraceWriter) WriteOperationStart(op api.OperationInfo) {
	t.printf("Calling %s.%s", op.Service, op.Operation)
}

// WriteOperationEnd writes an operation completion trace line.
// Format: [0.234s] Completed Todos.List (234ms)
func (t *TraceWriter) WriteOperationEnd(op api.OperationInfo, err error, duration time.Duration) {
	if err != nil {
		t.printf("Failed %s.%s: %v", op.Service, op.Operation, err)
		return
	}
	t.printf("Completed %s.%s (%dms)", op.Service, op.Operation, duration.Milliseconds())
}

// WriteRequestStart writes a request start trace line.
// Format: [0.234s]   -> GET /todos/user/1
// Sensitive query parameters are redacted.
func (t *TraceWriter) WriteRequestStart(info api.RequestInfo) {
	if info.Attempt > 1 {
		t.printf("  -> %s %s (replay)", info.Method, scrubURL(info.URL))
		return
	}
	t.printf("  -> %s %s", info.Method, scrubURL(info.URL))
}

// WriteRequestEnd writes a request completion trace line.
// Format: [0.234s]   <- 200 (45ms)
func (t *TraceWriter) WriteRequestEnd(_ api.RequestInfo, result api.RequestResult) {
	switch {
	case result.StatusCode == 0 && result.Error != nil:
		t.printf("  <- ERROR: %v", result.Error)
	case result.FromCache:
		t.printf("  <- %d (cached)", result.StatusCode)
	default:
		t.printf("  <- %d (%dms)", result.StatusCode, result.Duration.Milliseconds())
	}
}

// WriteRefresh writes a refresh coordinator transition.
// Format: [0.234s]   REFRESHING or [0.234s]   FAILED: no refresh token
func (t *TraceWriter) WriteRefresh(info api.RefreshInfo) {
	if info.Reason != "" {
		t.printf("  %s: %s", info.State, info.Reason)
		return
	}
	t.printf("  %s", info.State)
}

// Reset resets the start time for relative timestamps.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

// scrubURL redacts sensitive query parameters from a URL for safe logging.
// Returns a safe placeholder if the URL cannot be parsed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Don't leak potentially sensitive malformed URLs
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}

	if !modified {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
