// Package observability provides metrics collection and tracing for CLI operations.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/tasknest/tasknest-cli/internal/api"
)

// SessionMetrics aggregates metrics for one CLI invocation.
type SessionMetrics struct {
	StartTime       time.Time
	EndTime         time.Time
	TotalRequests   int
	FailedRequests  int
	CacheHits       int
	TotalOperations int
	FailedOps       int
	Replays         int
	Refreshes       int
	FailedRefreshes int
	TotalLatency    time.Duration
}

// SessionCollector accumulates metrics across a CLI invocation.
// It is safe for concurrent use and uses counters instead of unbounded slices.
type SessionCollector struct {
	mu sync.Mutex

	startTime       time.Time
	totalRequests   int
	failedRequests  int
	cacheHits       int
	totalOperations int
	failedOps       int
	replays         int
	refreshes       int
	failedRefreshes int
	totalLatency    time.Duration
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
	}
}

// RecordRequest records one HTTP exchange.
func (c *SessionCollector) RecordRequest(info api.RequestInfo, result api.RequestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += result.Duration
	if result.Error != nil {
		c.failedRequests++
	}
	if result.FromCache {
		c.cacheHits++
	}
	if info.Attempt > 1 {
		c.replays++
	}
}

// RecordCacheHit records a response served without a request.
func (c *SessionCollector) RecordCacheHit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits++
}

// RecordOperation records a completed operation.
func (c *SessionCollector) RecordOperation(_ api.OperationInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalOperations++
	if err != nil {
		c.failedOps++
	}
}

// RecordRefresh records a refresh coordinator transition. Only terminal
// transitions that called the gateway are counted, once per exchange.
func (c *SessionCollector) RecordRefresh(info api.RefreshInfo) {
	if !info.Exchanged {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch info.State {
	case api.StateNormal:
		c.refreshes++
	case api.StateFailed:
		c.failedRefreshes++
	}
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:       c.startTime,
		EndTime:         time.Now(),
		TotalRequests:   c.totalRequests,
		FailedRequests:  c.failedRequests,
		CacheHits:       c.cacheHits,
		TotalOperations: c.totalOperations,
		FailedOps:       c.failedOps,
		Replays:         c.replays,
		Refreshes:       c.refreshes,
		FailedRefreshes: c.failedRefreshes,
		TotalLatency:    c.totalLatency,
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.failedRequests = 0
	c.cacheHits = 0
	c.totalOperations = 0
	c.failedOps = 0
	c.replays = 0
	c.refreshes = 0
	c.failedRefreshes = 0
	c.totalLatency = 0
}

// StatsParts formats the summary for the --stats footer.
func (m SessionMetrics) StatsParts() []string {
	parts := []string{
		plural(m.TotalRequests, "request"),
		(m.EndTime.Sub(m.StartTime)).Round(time.Millisecond).String(),
	}
	if m.CacheHits > 0 {
		parts = append(parts, plural(m.CacheHits, "cache hit"))
	}
	if m.Refreshes > 0 || m.FailedRefreshes > 0 {
		parts = append(parts, plural(m.Refreshes, "token refresh")+
			"/"+plural(m.FailedRefreshes, "failure"))
	}
	return parts
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	suffix := "s"
	if noun[len(noun)-1] == 'h' {
		suffix = "es"
	}
	return strconv.Itoa(n) + " " + noun + suffix
}
