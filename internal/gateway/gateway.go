// Package gateway calls the remote authentication endpoints: login and token
// refresh. The whoAmI call goes through the api pipeline instead (api.Client.Me).
//
// Requests go over the transport the caller provides with no interception and
// no retry. Only the api package's refresh-on-401 path ever retries anything.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tasknest/tasknest-cli/internal/output"
	"github.com/tasknest/tasknest-cli/internal/version"
)

// User is the signed-in identity as the gateway reports it.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Gender    string `json:"gender,omitempty"`
	Image     string `json:"image,omitempty"`
}

// DisplayName returns "First Last", falling back to the username.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// TokenPair is an access token with the refresh token that renews it.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is a successful login: the user and their first token pair.
type LoginResult struct {
	User   *User
	Tokens TokenPair
}

// Client talks to the auth gateway.
type Client struct {
	baseURL string
	http    *http.Client

	// TokenLifetimeMins, when positive, asks the gateway for access tokens
	// that expire after this many minutes.
	TokenLifetimeMins int
}

// New creates a gateway client. httpClient must not carry the api pipeline.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

// Login exchanges a username and password for a user and token pair.
// Rejected credentials come back as a validation error carrying the
// gateway's message.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body := map[string]any{
		"username": username,
		"password": password,
	}
	if c.TokenLifetimeMins > 0 {
		body["expiresInMins"] = c.TokenLifetimeMins
	}

	var resp struct {
		User
		TokenPair
	}
	if err := c.post(ctx, "/auth/login", body, &resp); err != nil {
		// A 401 from login means bad credentials, not an expired session.
		if e := output.AsError(err); e.Code == output.CodeAuthExpired {
			msg := e.Hint
			if msg == "" {
				msg = "Invalid credentials"
			}
			return nil, output.ErrValidation(http.StatusUnauthorized, msg)
		}
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, output.ErrAPI(http.StatusOK, "login response did not include an access token")
	}

	user := resp.User
	return &LoginResult{User: &user, Tokens: resp.TokenPair}, nil
}

// Refresh exchanges a refresh token for a new token pair. Gateways that do
// not rotate refresh tokens may omit refreshToken; the old one is kept.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	body := map[string]any{"refreshToken": refreshToken}
	if c.TokenLifetimeMins > 0 {
		body["expiresInMins"] = c.TokenLifetimeMins
	}

	var pair TokenPair
	if err := c.post(ctx, "/auth/refresh", body, &pair); err != nil {
		return nil, err
	}
	if pair.AccessToken == "" {
		return nil, output.ErrAPI(http.StatusOK, "refresh response did not include an access token")
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return &pair, nil
}

func (c *Client) post(ctx context.Context, path string, body, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return output.ErrNetwork(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return output.ErrFromResponse(resp.StatusCode, data)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return output.ErrAPI(resp.StatusCode, fmt.Sprintf("failed to parse %s response: %v", path, err))
	}
	return nil
}
