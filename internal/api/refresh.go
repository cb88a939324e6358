package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tasknest/tasknest-cli/internal/gateway"
	"github.com/tasknest/tasknest-cli/internal/output"
	"github.com/tasknest/tasknest-cli/internal/session"
)

// State is the refresh coordinator state for one pending request.
type State int

const (
	StateNormal State = iota
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateRefreshing:
		return "REFRESHING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// TokenRefresher exchanges a refresh token for a new token pair.
// *gateway.Client satisfies it.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*gateway.TokenPair, error)
}

// errRefreshAborted means the session was logged out while the refresh ran.
var errRefreshAborted = errors.New("session ended during refresh")

// Refresher coalesces concurrent refreshes. Every caller presenting the same
// refresh token while a refresh is in flight waits for that one call.
type Refresher struct {
	gateway TokenRefresher
	session *session.Session
	group   singleflight.Group
	log     zerolog.Logger
}

// NewRefresher creates a Refresher that updates sess on success.
func NewRefresher(gw TokenRefresher, sess *session.Session, log zerolog.Logger) *Refresher {
	return &Refresher{gateway: gw, session: sess, log: log}
}

// Refresh renews the session's tokens using refreshToken. On success the new
// pair has already been written to the session and the credential store.
// The bool reports whether this caller's flight called the gateway; callers
// that joined another flight or found the token already rotated get false.
//
// The gateway call is detached from ctx so one caller giving up does not fail
// the others waiting on it; ctx only bounds how long this caller waits.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (gateway.TokenPair, bool, error) {
	var ran bool
	ch := r.group.DoChan(refreshToken, func() (any, error) {
		// A flight that finished just before this one started may already
		// have rotated refreshToken away.
		if snap := r.session.Snapshot(); snap.AccessToken != "" && snap.RefreshToken != refreshToken {
			return gateway.TokenPair{AccessToken: snap.AccessToken, RefreshToken: snap.RefreshToken}, nil
		}
		if !r.session.BeginRefresh() {
			return nil, errRefreshAborted
		}
		r.log.Debug().Msg("refreshing access token")

		ran = true
		pair, err := r.gateway.Refresh(context.WithoutCancel(ctx), refreshToken)
		if err != nil {
			return nil, err
		}
		if !r.session.RefreshSucceeded(*pair) {
			return nil, errRefreshAborted
		}
		return *pair, nil
	})

	select {
	case <-ctx.Done():
		return gateway.TokenPair{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return gateway.TokenPair{}, ran, res.Err
		}
		if res.Shared && !ran {
			r.log.Debug().Msg("joined in-flight refresh")
		}
		return res.Val.(gateway.TokenPair), ran, nil
	}
}

// refreshAndRetry handles a 401 for req. A nil return means the tokens were
// renewed and req should be sent again; anything else is the final error.
func (c *Client) refreshAndRetry(ctx context.Context, req *Request) error {
	if req.retried {
		return c.fail(ctx, req, "rejected after refresh")
	}
	req.retried = true

	// A 401 that lands after logout must not start a refresh.
	if !c.session.CanRefresh() {
		c.hooks.OnRefresh(ctx, RefreshInfo{State: StateFailed, RequestID: req.ID, Reason: "signed out"})
		return output.ErrAuth("Not signed in")
	}
	if c.refresher == nil {
		return c.fail(ctx, req, "refresh disabled")
	}

	cred, _ := c.store.Get()
	if cred.AccessToken != "" && cred.AccessToken != req.token {
		// Another request renewed the token after this one was sent.
		c.hooks.OnRefresh(ctx, RefreshInfo{State: StateNormal, RequestID: req.ID, Reason: "token already renewed"})
		return nil
	}
	if cred.RefreshToken == "" {
		return c.fail(ctx, req, "no refresh token")
	}

	c.hooks.OnRefresh(ctx, RefreshInfo{State: StateRefreshing, RequestID: req.ID})
	_, exchanged, err := c.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up. That says nothing about the session.
			return ctx.Err()
		}
		if errors.Is(err, errRefreshAborted) {
			c.hooks.OnRefresh(ctx, RefreshInfo{State: StateFailed, RequestID: req.ID, Reason: "signed out"})
			return output.ErrAuth("Not signed in")
		}
		c.log.Debug().Err(err).Msg("refresh failed")
		return c.end(ctx, RefreshInfo{State: StateFailed, RequestID: req.ID, Reason: "refresh failed: " + output.AsError(err).Message, Exchanged: exchanged})
	}

	c.hooks.OnRefresh(ctx, RefreshInfo{State: StateNormal, RequestID: req.ID, Reason: "refreshed", Exchanged: exchanged})
	return nil
}

// RefreshNow renews the stored tokens without waiting for a 401. A rejected
// refresh token ends the session the same way a failed retry does.
func (c *Client) RefreshNow(ctx context.Context) error {
	if c.refresher == nil {
		return output.ErrUsageHint("Token refresh is disabled", "Credentials from TASKNEST_TOKEN cannot be refreshed")
	}
	cred, ok := c.store.Get()
	if !ok || cred.RefreshToken == "" {
		return output.ErrAuth("Not signed in")
	}
	if c.session.Status() == session.StatusAnonymous {
		c.session.Restore()
	}

	req := NewRequest(http.MethodPost, "/auth/refresh", nil)
	c.hooks.OnRefresh(ctx, RefreshInfo{State: StateRefreshing, RequestID: req.ID, Reason: "requested"})
	_, exchanged, err := c.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errRefreshAborted) {
			return output.ErrAuth("Not signed in")
		}
		return c.end(ctx, RefreshInfo{State: StateFailed, RequestID: req.ID, Reason: "refresh failed: " + output.AsError(err).Message, Exchanged: exchanged})
	}
	c.hooks.OnRefresh(ctx, RefreshInfo{State: StateNormal, RequestID: req.ID, Reason: "refreshed", Exchanged: exchanged})
	return nil
}

// fail is the terminal FAILED state: the session is expired and cleared, the
// persisted credentials are removed, observers are notified, and the caller
// gets an authentication error.
func (c *Client) fail(ctx context.Context, req *Request, reason string) error {
	return c.end(ctx, RefreshInfo{State: StateFailed, RequestID: req.ID, Reason: reason})
}

func (c *Client) end(ctx context.Context, info RefreshInfo) error {
	c.hooks.OnRefresh(ctx, info)
	c.log.Info().Str("reason", info.Reason).Msg("session ended")
	c.session.Expire(info.Reason)
	return output.ErrAuth("Your session has expired. Please sign in again.")
}
