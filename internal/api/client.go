// Package api provides the authenticated HTTP client for the task API.
//
// Every request passes through the same pipeline of named stages:
//
//	attachAuth -> send -> detectUnauthorized -> refreshAndRetry
//
// A 401 on a request that has not been retried yet is answered with one
// token refresh and one replay. Any other failure is returned to the caller
// unchanged.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tasknest/tasknest-cli/internal/credstore"
	"github.com/tasknest/tasknest-cli/internal/gateway"
	"github.com/tasknest/tasknest-cli/internal/output"
	"github.com/tasknest/tasknest-cli/internal/session"
	"github.com/tasknest/tasknest-cli/internal/version"
)

// Client is an HTTP client for the task API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *session.Session
	store      credstore.Store
	refresher  *Refresher
	hooks      Hooks
	log        zerolog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Session    *session.Session
	// Gateway renews tokens. Nil disables refresh: every 401 is final.
	Gateway TokenRefresher
	Hooks   Hooks
	Logger  zerolog.Logger
}

// Response wraps an API response.
type Response struct {
	Data       json.RawMessage
	StatusCode int
	Headers    http.Header
	RequestID  string
	// Replayed is set when the response came from the replay after a refresh.
	Replayed bool
}

// UnmarshalData unmarshals the response data into the given value.
func (r *Response) UnmarshalData(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// NewClient creates a new API client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: httpClient,
		session:    opts.Session,
		store:      opts.Session.Store(),
		hooks:      hooks,
		log:        opts.Logger,
	}
	if opts.Gateway != nil {
		c.refresher = NewRefresher(opts.Gateway, opts.Session, opts.Logger)
	}
	return c
}

// Session returns the session the client authenticates with.
func (c *Client) Session() *session.Session {
	return c.session
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodGet, path, nil))
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodPost, path, body))
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodPut, path, body))
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodDelete, path, nil))
}

// Me returns the signed-in user (the gateway's whoAmI) through the pipeline,
// so an expired access token is refreshed once before giving up.
func (c *Client) Me(ctx context.Context) (*gateway.User, error) {
	resp, err := c.Get(ctx, "/auth/me")
	if err != nil {
		return nil, err
	}
	var user gateway.User
	if err := resp.UnmarshalData(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Operation runs fn as a named operation, reporting it to the hooks.
func (c *Client) Operation(ctx context.Context, op OperationInfo, fn func(context.Context) error) error {
	start := time.Now()
	ctx = c.hooks.OnOperationStart(ctx, op)
	err := fn(ctx)
	c.hooks.OnOperationEnd(ctx, op, err, time.Since(start))
	return err
}

// Do runs req through the pipeline and returns the final response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	for {
		resp, err := c.send(ctx, req)
		if !detectUnauthorized(err) {
			return resp, err
		}
		if err := c.refreshAndRetry(ctx, req); err != nil {
			return nil, err
		}
		// Refreshed: loop once more to replay req with the new token.
	}
}

// attachAuth sets the bearer header when a token is present and leaves the
// request unauthenticated otherwise.
func attachAuth(req *http.Request, token string) {
	if token == "" {
		req.Header.Del("Authorization")
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

// detectUnauthorized reports whether err is a 401 eligible for refresh.
func detectUnauthorized(err error) bool {
	return err != nil && output.IsCode(err, output.CodeAuthExpired)
}

// currentToken reads the access token from the credential store.
func (c *Client) currentToken() string {
	cred, ok := c.store.Get()
	if !ok {
		return ""
	}
	return cred.AccessToken
}

// send performs one HTTP exchange for req.
func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	payload, err := req.encodeBody()
	if err != nil {
		return nil, err
	}

	url := c.buildURL(req)
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", req.ID)
	req.token = c.currentToken()
	attachAuth(httpReq, req.token)

	attempt := 1
	if req.retried {
		attempt = 2
	}
	info := RequestInfo{Method: req.Method, URL: url, Attempt: attempt, RequestID: req.ID}
	ctx = c.hooks.OnRequestStart(ctx, info)

	c.log.Debug().Str("method", req.Method).Str("url", url).Int("attempt", attempt).Str("request_id", req.ID).Msg("request")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		netErr := output.ErrNetwork(err)
		c.hooks.OnRequestEnd(ctx, info, RequestResult{Duration: time.Since(start), Error: netErr})
		return nil, netErr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	result := RequestResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
	if err != nil {
		result.Error = output.ErrNetwork(err)
		c.hooks.OnRequestEnd(ctx, info, result)
		return nil, result.Error
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("request_id", req.ID).Dur("took", result.Duration).Msg("response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Error = output.ErrFromResponse(resp.StatusCode, data)
		c.hooks.OnRequestEnd(ctx, info, result)
		return nil, result.Error
	}
	c.hooks.OnRequestEnd(ctx, info, result)

	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("null")
	}
	return &Response{
		Data:       data,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		RequestID:  req.ID,
		Replayed:   req.retried,
	}, nil
}

func (c *Client) buildURL(req *Request) string {
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := c.baseURL + path
	if len(req.Query) > 0 {
		url += "?" + req.Query.Encode()
	}
	return url
}
