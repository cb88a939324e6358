package api

import (
	"context"
	"time"
)

// RequestInfo describes one HTTP exchange.
// Attempt is 1 for the original send and 2 for the replay after a refresh.
type RequestInfo struct {
	Method    string
	URL       string
	Attempt   int
	RequestID string
}

// RequestResult is the outcome of one HTTP exchange.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	FromCache  bool
	Error      error
}

// OperationInfo names a semantic operation built from one or more requests.
type OperationInfo struct {
	Service    string // e.g. "Todos", "Auth"
	Operation  string // e.g. "List", "Login"
	IsMutation bool
	ResourceID int
}

// RefreshInfo reports a coordinator transition for one pending request.
type RefreshInfo struct {
	State     State
	RequestID string
	Reason    string
	// Exchanged is set on the terminal transition of the request whose
	// flight actually called the gateway's refresh endpoint.
	Exchanged bool
}

// Hooks observe the pipeline. Implementations must be safe for concurrent use.
type Hooks interface {
	OnOperationStart(ctx context.Context, op OperationInfo) context.Context
	OnOperationEnd(ctx context.Context, op OperationInfo, err error, duration time.Duration)
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
	OnRefresh(ctx context.Context, info RefreshInfo)
}

// NopHooks ignores everything.
type NopHooks struct{}

func (NopHooks) OnOperationStart(ctx context.Context, _ OperationInfo) context.Context { return ctx }

func (NopHooks) OnOperationEnd(context.Context, OperationInfo, error, time.Duration) {}

func (NopHooks) OnRequestStart(ctx context.Context, _ RequestInfo) context.Context { return ctx }

func (NopHooks) OnRequestEnd(context.Context, RequestInfo, RequestResult) {}

func (NopHooks) OnRefresh(context.Context, RefreshInfo) {}
