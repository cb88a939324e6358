package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknest/tasknest-cli/internal/output"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", srv.Client())
}

func TestLogin(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body["username"])
		assert.Equal(t, "secret1", body["password"])
		assert.Equal(t, float64(15), body["expiresInMins"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":7,"username":"alice","email":"alice@example.com","firstName":"Alice","lastName":"Liddell","accessToken":"A1","refreshToken":"R1"}`))
	})
	c.TokenLifetimeMins = 15

	res, err := c.Login(context.Background(), "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, 7, res.User.ID)
	assert.Equal(t, "Alice Liddell", res.User.DisplayName())
	assert.Equal(t, TokenPair{AccessToken: "A1", RefreshToken: "R1"}, res.Tokens)
}

func TestLoginRejectedUsesServerMessage(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"detail":"Invalid credentials"}`))
		})

		_, err := c.Login(context.Background(), "alice", "wrong")
		require.Error(t, err)
		e := output.AsError(err)
		assert.Equal(t, output.CodeValidation, e.Code, "status %d", status)
		assert.Equal(t, "Invalid credentials", e.Message)
	}
}

func TestLoginNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := New(srv.URL, nil).Login(context.Background(), "alice", "secret1")
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeNetwork))
	assert.Equal(t, "Please check your network connection", output.AsError(err).Message)
}

func TestUserDisplayName(t *testing.T) {
	assert.Equal(t, "Alice Liddell", (&User{Username: "alice", FirstName: "Alice", LastName: "Liddell"}).DisplayName())
	assert.Equal(t, "alice", (&User{Username: "alice"}).DisplayName())
}

func TestRefresh(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch body["refreshToken"] {
		case "R1":
			w.Write([]byte(`{"accessToken":"A2","refreshToken":"R2"}`))
		case "R-keep":
			w.Write([]byte(`{"accessToken":"A3"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	pair, err := c.Refresh(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, &TokenPair{AccessToken: "A2", RefreshToken: "R2"}, pair)

	pair, err = c.Refresh(context.Background(), "R-keep")
	require.NoError(t, err)
	assert.Equal(t, "R-keep", pair.RefreshToken, "non-rotating gateways keep the old refresh token")

	_, err = c.Refresh(context.Background(), "revoked")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, output.AsError(err).HTTPStatus)
}

func TestRefreshMissingAccessToken(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := c.Refresh(context.Background(), "R1")
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeAPI))
}
