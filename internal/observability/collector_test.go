package observability

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tasknest/tasknest-cli/internal/api"
)

func TestSessionCollector_RecordRequest(t *testing.T) {
	c := NewSessionCollector()

	c.RecordRequest(api.RequestInfo{Method: "GET", URL: "/todos/user/1", Attempt: 1},
		api.RequestResult{StatusCode: 401, Duration: 20 * time.Millisecond, Error: errors.New("expired")})
	c.RecordRequest(api.RequestInfo{Method: "GET", URL: "/todos/user/1", Attempt: 2},
		api.RequestResult{StatusCode: 200, Duration: 30 * time.Millisecond})

	summary := c.Summary()
	if summary.TotalRequests != 2 {
		t.Errorf("expected 2 total requests, got %d", summary.TotalRequests)
	}
	if summary.FailedRequests != 1 {
		t.Errorf("expected 1 failed request, got %d", summary.FailedRequests)
	}
	if summary.Replays != 1 {
		t.Errorf("expected 1 replay, got %d", summary.Replays)
	}
	if summary.TotalLatency != 50*time.Millisecond {
		t.Errorf("expected 50ms latency, got %v", summary.TotalLatency)
	}
}

func TestSessionCollector_RecordOperation(t *testing.T) {
	c := NewSessionCollector()

	c.RecordOperation(api.OperationInfo{Service: "Todos", Operation: "List"}, nil)
	c.RecordOperation(api.OperationInfo{Service: "Todos", Operation: "Create"}, errors.New("network error"))

	summary := c.Summary()
	if summary.TotalOperations != 2 {
		t.Errorf("expected 2 total operations, got %d", summary.TotalOperations)
	}
	if summary.FailedOps != 1 {
		t.Errorf("expected 1 failed op, got %d", summary.FailedOps)
	}
}

func TestSessionCollector_RecordRefresh(t *testing.T) {
	c := NewSessionCollector()

	c.RecordRefresh(api.RefreshInfo{State: api.StateRefreshing})
	c.RecordRefresh(api.RefreshInfo{State: api.StateNormal, Reason: "refreshed", Exchanged: true})
	c.RecordRefresh(api.RefreshInfo{State: api.StateFailed, Reason: "refresh failed: Invalid refresh token", Exchanged: true})

	summary := c.Summary()
	if summary.Refreshes != 1 {
		t.Errorf("expected 1 refresh, got %d", summary.Refreshes)
	}
	if summary.FailedRefreshes != 1 {
		t.Errorf("expected 1 failed refresh, got %d", summary.FailedRefreshes)
	}
}

func TestSessionCollector_RecordRefreshIgnoresTransitionsWithoutExchange(t *testing.T) {
	c := NewSessionCollector()

	c.RecordRefresh(api.RefreshInfo{State: api.StateNormal, Reason: "token already renewed"})
	c.RecordRefresh(api.RefreshInfo{State: api.StateFailed, Reason: "signed out"})
	c.RecordRefresh(api.RefreshInfo{State: api.StateFailed, Reason: "no refresh token"})
	c.RecordRefresh(api.RefreshInfo{State: api.StateFailed, Reason: "rejected after refresh"})
	// A request that joined another request's refresh.
	c.RecordRefresh(api.RefreshInfo{State: api.StateNormal, Reason: "refreshed"})

	summary := c.Summary()
	if summary.Refreshes != 0 || summary.FailedRefreshes != 0 {
		t.Errorf("expected no counted refreshes, got %d/%d", summary.Refreshes, summary.FailedRefreshes)
	}
	if parts := summary.StatsParts(); len(parts) != 2 {
		t.Errorf("expected no refresh part in stats, got %v", parts)
	}
}

func TestSessionCollector_Reset(t *testing.T) {
	c := NewSessionCollector()

	c.RecordRequest(api.RequestInfo{Method: "GET"}, api.RequestResult{})
	c.RecordOperation(api.OperationInfo{Service: "Todos"}, nil)
	c.RecordRefresh(api.RefreshInfo{State: api.StateNormal, Exchanged: true})
	c.RecordCacheHit()

	c.Reset()

	summary := c.Summary()
	if summary.TotalRequests != 0 || summary.TotalOperations != 0 || summary.Refreshes != 0 || summary.CacheHits != 0 {
		t.Errorf("expected zeroed metrics after reset, got %+v", summary)
	}
}

func TestSessionCollector_Concurrent(t *testing.T) {
	c := NewSessionCollector()
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			c.RecordRequest(api.RequestInfo{Method: "GET"}, api.RequestResult{StatusCode: 200})
		}()
		go func() {
			defer wg.Done()
			c.RecordOperation(api.OperationInfo{Service: "Todos"}, nil)
		}()
		go func() {
			defer wg.Done()
			c.RecordCacheHit()
		}()
	}

	wg.Wait()

	summary := c.Summary()
	if summary.TotalRequests != 100 {
		t.Errorf("expected 100 requests, got %d", summary.TotalRequests)
	}
	if summary.TotalOperations != 100 {
		t.Errorf("expected 100 operations, got %d", summary.TotalOperations)
	}
	if summary.CacheHits != 100 {
		t.Errorf("expected 100 cache hits, got %d", summary.CacheHits)
	}
}

func TestSessionMetrics_StatsParts(t *testing.T) {
	start := time.Now()
	m := SessionMetrics{
		StartTime:     start,
		EndTime:       start.Add(1500 * time.Millisecond),
		TotalRequests: 3,
		CacheHits:     1,
		Refreshes:     1,
	}

	got := strings.Join(m.StatsParts(), " | ")
	want := "3 requests | 1.5s | 1 cache hit | 1 token refresh/0 failures"
	if got != want {
		t.Errorf("StatsParts() = %q, want %q", got, want)
	}

	m = SessionMetrics{StartTime: start, EndTime: start, TotalRequests: 1}
	if got := strings.Join(m.StatsParts(), " | "); got != "1 request | 0s" {
		t.Errorf("StatsParts() = %q", got)
	}
}
