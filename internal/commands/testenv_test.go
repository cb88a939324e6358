package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tasknest/tasknest-cli/internal/appctx"
	"github.com/tasknest/tasknest-cli/internal/config"
	"github.com/tasknest/tasknest-cli/internal/credstore"
	"github.com/tasknest/tasknest-cli/internal/stubapi"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testEnv is one stub API plus a CLI app pointed at it. reload builds a new
// app over the same credential store, the way a second invocation would.
type testEnv struct {
	t      *testing.T
	stub   *stubapi.Server
	srv    *httptest.Server
	clock  *testClock
	store  *credstore.MemoryStore
	cfg    *config.Config
	flags  appctx.GlobalFlags
	app    *appctx.App
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("TASKNEST_DEBUG", "")
	t.Setenv("TASKNEST_TOKEN", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	stub, err := stubapi.New(stubapi.Options{
		Secret:     []byte("commands-test-secret"),
		BcryptCost: bcrypt.MinCost,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	clk := &testClock{now: time.Now().Truncate(time.Second)}
	stub.SetClock(clk.Now)

	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.BaseURL = srv.URL
	cfg.CacheDir = t.TempDir()

	env := &testEnv{
		t:     t,
		stub:  stub,
		srv:   srv,
		clock: clk,
		store: credstore.NewMemoryStore(credstore.Credential{}),
		cfg:   cfg,
		flags: appctx.GlobalFlags{JSON: true},
	}
	env.reload()
	return env
}

func (e *testEnv) reload() {
	e.stdout = &bytes.Buffer{}
	e.stderr = &bytes.Buffer{}
	e.app = appctx.NewApp(e.cfg, e.flags, appctx.Options{
		Stdout:     e.stdout,
		Stderr:     e.stderr,
		Store:      e.store,
		HTTPClient: e.srv.Client(),
	})
}

// signIn stores emilys's tokens as a previous login would have.
func (e *testEnv) signIn() {
	e.t.Helper()
	res, err := e.app.Gateway.Login(context.Background(), "emilys", "emilyspass")
	require.NoError(e.t, err)
	e.store.Set(credstore.Credential{AccessToken: res.Tokens.AccessToken, RefreshToken: res.Tokens.RefreshToken})
	e.reload()
}

func (e *testEnv) run(cmd *cobra.Command, args ...string) error {
	e.stdout.Reset()
	e.stderr.Reset()
	return executeCommand(cmd, e.app, args...)
}

// executeCommand executes a cobra command with the given args.
func executeCommand(cmd *cobra.Command, app *appctx.App, args ...string) error {
	cmd.SetArgs(args)
	cmd.SetContext(appctx.WithApp(context.Background(), app))

	// Suppress cobra's own output during tests
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	return cmd.Execute()
}

type envelope[T any] struct {
	OK      bool   `json:"ok"`
	Data    T      `json:"data"`
	Summary string `json:"summary"`
}

func decodeEnvelope[T any](t *testing.T, buf *bytes.Buffer) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env), "stdout: %s", buf.String())
	require.True(t, env.OK)
	return env
}
