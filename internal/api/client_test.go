package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknest/tasknest-cli/internal/credstore"
	"github.com/tasknest/tasknest-cli/internal/gateway"
	"github.com/tasknest/tasknest-cli/internal/output"
	"github.com/tasknest/tasknest-cli/internal/session"
)

// fakeAPI accepts one access token on data endpoints and hands out a new one
// on refresh.
type fakeAPI struct {
	mu         sync.Mutex
	validToken string
	next       gateway.TokenPair
	// refreshStatus, when non-zero, is returned instead of a token pair.
	refreshStatus int
	refreshDelay  time.Duration

	refreshCalls atomic.Int32
	seenAuth     []string
	seenIDs      []string
	seenBodies   []string

	// beforeReply, when set, runs in the data handler before it answers.
	beforeReply func()
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		assert.Empty(t, r.Header.Get("Authorization"), "refresh goes over the bare transport")
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if f.refreshDelay > 0 {
			time.Sleep(f.refreshDelay)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.refreshStatus != 0 {
			w.WriteHeader(f.refreshStatus)
			w.Write([]byte(`{"message":"Invalid refresh token"}`))
			return
		}
		f.validToken = f.next.AccessToken
		json.NewEncoder(w).Encode(f.next)
	})
	data := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		f.seenAuth = append(f.seenAuth, r.Header.Get("Authorization"))
		f.seenIDs = append(f.seenIDs, r.Header.Get("X-Request-ID"))
		f.seenBodies = append(f.seenBodies, string(body))
		hook := f.beforeReply
		f.mu.Unlock()

		if hook != nil {
			hook()
		}

		f.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+f.validToken
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Token Expired!"}`))
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/boom"):
			w.WriteHeader(http.StatusInternalServerError)
		case strings.HasSuffix(r.URL.Path, "/invalid"):
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"todo is required"}`))
		case r.URL.Path == "/auth/me":
			w.Write([]byte(`{"id":1,"username":"alice"}`))
		default:
			w.Write([]byte(`{"todos":[{"id":1,"todo":"Write tests","completed":false,"userId":1}],"total":1,"skip":0,"limit":30}`))
		}
	}
	mux.HandleFunc("/todos/", data)
	mux.HandleFunc("GET /auth/me", data)
	return mux
}

func (f *fakeAPI) auths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seenAuth...)
}

type recordingHooks struct {
	NopHooks
	mu       sync.Mutex
	states    []State
	exchanged int
	attempts  []int
}

func (h *recordingHooks) OnRefresh(_ context.Context, info RefreshInfo) {
	h.mu.Lock()
	h.states = append(h.states, info.State)
	if info.Exchanged {
		h.exchanged++
	}
	h.mu.Unlock()
}

func (h *recordingHooks) OnRequestEnd(_ context.Context, info RequestInfo, _ RequestResult) {
	h.mu.Lock()
	h.attempts = append(h.attempts, info.Attempt)
	h.mu.Unlock()
}

type fixture struct {
	api     *fakeAPI
	client  *Client
	session *session.Session
	store   *credstore.MemoryStore
	hooks   *recordingHooks
	events  *[]session.Status
}

// newFixture signs alice in with A1/R1 against a server that currently
// rejects A1 and will issue A2 on refresh.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fakeAPI{
		validToken: "A2",
		next:       gateway.TokenPair{AccessToken: "A2"},
	}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	store := credstore.NewMemoryStore(credstore.Credential{})
	sess := session.New(store, zerolog.Nop())
	sess.LoginSucceeded(&gateway.User{ID: 1, Username: "alice"}, gateway.TokenPair{AccessToken: "A1", RefreshToken: "R1"})

	var mu sync.Mutex
	events := []session.Status{}
	sess.Subscribe(func(ev session.Event) {
		mu.Lock()
		events = append(events, ev.To)
		mu.Unlock()
	})

	hooks := &recordingHooks{}
	client := NewClient(Options{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Session:    sess,
		Gateway:    gateway.New(srv.URL, srv.Client()),
		Hooks:      hooks,
		Logger:     zerolog.Nop(),
	})
	return &fixture{api: f, client: client, session: sess, store: store, hooks: hooks, events: &events}
}

func TestAttachAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/todos/1", nil)

	attachAuth(req, "A1")
	assert.Equal(t, "Bearer A1", req.Header.Get("Authorization"))

	attachAuth(req, "A1")
	assert.Equal(t, "Bearer A1", req.Header.Get("Authorization"), "attaching is idempotent")

	attachAuth(req, "")
	assert.Empty(t, req.Header.Get("Authorization"), "no token sends the request unauthenticated")
}

func TestSuccessPassesThrough(t *testing.T) {
	fx := newFixture(t)
	fx.store.Set(credstore.Credential{AccessToken: "A2", RefreshToken: "R1"})

	resp, err := fx.client.Get(context.Background(), "/todos/user/1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, resp.Replayed)
	assert.Equal(t, int32(0), fx.api.refreshCalls.Load())
	assert.Equal(t, []string{"Bearer A2"}, fx.api.auths())
}

func TestRefreshAndReplay(t *testing.T) {
	fx := newFixture(t)

	resp, err := fx.client.Get(context.Background(), "/todos/user/1")
	require.NoError(t, err)

	// The caller sees the replayed response, not the 401.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.Replayed)
	var page struct {
		Todos []map[string]any `json:"todos"`
	}
	require.NoError(t, resp.UnmarshalData(&page))
	assert.Len(t, page.Todos, 1)

	assert.Equal(t, int32(1), fx.api.refreshCalls.Load())
	assert.Equal(t, []string{"Bearer A1", "Bearer A2"}, fx.api.auths())

	// Same request ID on the original and the replay.
	require.Len(t, fx.api.seenIDs, 2)
	assert.NotEmpty(t, fx.api.seenIDs[0])
	assert.Equal(t, fx.api.seenIDs[0], fx.api.seenIDs[1])

	cred, ok := fx.store.Get()
	require.True(t, ok)
	assert.Equal(t, "A2", cred.AccessToken)
	assert.Equal(t, "R1", cred.RefreshToken)

	snap := fx.session.Snapshot()
	assert.Equal(t, session.StatusAuthenticated, snap.Status)
	assert.Equal(t, "A2", snap.AccessToken)

	assert.Equal(t, []State{StateRefreshing, StateNormal}, fx.hooks.states)
	assert.Equal(t, []int{1, 2}, fx.hooks.attempts)
}

func TestReplaySendsSameBody(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.client.Post(context.Background(), "/todos/add", map[string]any{"todo": "Buy milk", "userId": 1})
	require.NoError(t, err)

	require.Len(t, fx.api.seenBodies, 2)
	assert.JSONEq(t, `{"todo":"Buy milk","userId":1}`, fx.api.seenBodies[0])
	assert.Equal(t, fx.api.seenBodies[0], fx.api.seenBodies[1])
}

func TestRefreshRejectedClearsSession(t *testing.T) {
	fx := newFixture(t)
	fx.api.refreshStatus = http.StatusUnauthorized

	_, err := fx.client.Get(context.Background(), "/todos/user/1")
	require.Error(t, err)

	e := output.AsError(err)
	assert.Equal(t, output.CodeAuth, e.Code)
	assert.Equal(t, output.ExitAuth, e.ExitCode())

	snap := fx.session.Snapshot()
	assert.Equal(t, session.StatusAnonymous, snap.Status)
	assert.Nil(t, snap.User)
	assert.Empty(t, snap.AccessToken)
	assert.Empty(t, snap.RefreshToken)

	_, ok := fx.store.Get()
	assert.False(t, ok, "persisted credentials are removed")

	assert.Contains(t, *fx.events, session.StatusExpired)
	assert.Equal(t, []State{StateRefreshing, StateFailed}, fx.hooks.states)
	assert.Equal(t, int32(1), fx.api.refreshCalls.Load())
}

func TestRefreshServerErrorAlsoFails(t *testing.T) {
	fx := newFixture(t)
	fx.api.refreshStatus = http.StatusBadGateway

	_, err := fx.client.Get(context.Background(), "/todos/user/1")
	assert.True(t, output.IsCode(err, output.CodeAuth))
	assert.Equal(t, session.StatusAnonymous, fx.session.Status())
}

func TestSecond401NeverRefreshesAgain(t *testing.T) {
	fx := newFixture(t)
	// Refresh "succeeds" but hands out a token the server still rejects.
	fx.api.next = gateway.TokenPair{AccessToken: "A2", RefreshToken: "R2"}
	fx.api.beforeReply = func() {
		fx.api.mu.Lock()
		fx.api.validToken = "never"
		fx.api.mu.Unlock()
	}

	_, err := fx.client.Get(context.Background(), "/todos/user/1")
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeAuth))

	assert.Equal(t, int32(1), fx.api.refreshCalls.Load(), "exactly one refresh per original request")
	assert.Equal(t, []string{"Bearer A1", "Bearer A2"}, fx.api.auths())
	assert.Equal(t, session.StatusAnonymous, fx.session.Status())
	_, ok := fx.store.Get()
	assert.False(t, ok)
}

func TestRetryMarker(t *testing.T) {
	fx := newFixture(t)
	req := NewRequest(http.MethodGet, "/todos/user/1", nil)
	assert.False(t, req.Retried())

	_, err := fx.client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, req.Retried())

	// Reusing a request that already went through a refresh cannot refresh again.
	fx.api.mu.Lock()
	fx.api.validToken = "rotated"
	fx.api.mu.Unlock()
	_, err = fx.client.Do(context.Background(), req)
	assert.True(t, output.IsCode(err, output.CodeAuth))
	assert.Equal(t, int32(1), fx.api.refreshCalls.Load())
}

func TestNoRefreshTokenFails(t *testing.T) {
	fx := newFixture(t)
	fx.store.Set(credstore.Credential{AccessToken: "A1"})

	_, err := fx.client.Get(context.Background(), "/todos/user/1")
	assert.True(t, output.IsCode(err, output.CodeAuth))
	assert.Equal(t, int32(0), fx.api.refreshCalls.Load())
	assert.Equal(t, session.StatusAnonymous, fx.session.Status())
	assert.Equal(t, []State{StateFailed}, fx.hooks.states)
}

func TestRefreshDisabledWithoutGateway(t *testing.T) {
	fx := newFixture(t)
	client := NewClient(Options{
		BaseURL:    fx.client.baseURL,
		HTTPClient: fx.client.httpClient,
		Session:    fx.session,
		Logger:     zerolog.Nop(),
	})

	_, err := client.Get(context.Background(), "/todos/user/1")
	assert.True(t, output.IsCode(err, output.CodeAuth))
	assert.Equal(t, int32(0), fx.api.refreshCalls.Load())
}

func TestNonAuthErrorsPassThrough(t *testing.T) {
	fx := newFixture(t)
	fx.store.Set(credstore.Credential{AccessToken: "A2", RefreshToken: "R1"})

	_, err := fx.client.Get(context.Background(), "/todos/boom")
	assert.True(t, output.IsCode(err, output.CodeAPI))
	assert.Equal(t, 500, output.AsError(err).HTTPStatus)

	_, err = fx.client.Put(context.Background(), "/todos/invalid", map[string]any{})
	e := output.AsError(err)
	assert.Equal(t, output.CodeValidation, e.Code)
	assert.Equal(t, "todo is required", e.Message)

	assert.Equal(t, int32(0), fx.api.refreshCalls.Load())
	assert.Equal(t, session.StatusAuthenticated, fx.session.Status())
}

func TestNetworkErrorIsNotRetried(t *testing.T) {
	store := credstore.NewMemoryStore(credstore.Credential{})
	sess := session.New(store, zerolog.Nop())
	sess.LoginSucceeded(&gateway.User{ID: 1}, gateway.TokenPair{AccessToken: "A1", RefreshToken: "R1"})

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Session: sess, Gateway: gateway.New(srv.URL, nil), Logger: zerolog.Nop()})
	_, err := client.Get(context.Background(), "/todos/user/1")
	assert.True(t, output.IsCode(err, output.CodeNetwork))
	assert.Equal(t, session.StatusAuthenticated, sess.Status())
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	fx := newFixture(t)
	fx.api.next = gateway.TokenPair{AccessToken: "A2", RefreshToken: "R2"}
	fx.api.refreshDelay = 100 * time.Millisecond

	const n = 8
	var arrived sync.WaitGroup
	arrived.Add(n)
	release := make(chan struct{})
	var once sync.Once
	var first atomic.Int32
	fx.api.beforeReply = func() {
		// Hold the first wave of requests until all of them are in flight.
		if first.Add(1) <= n {
			arrived.Done()
			<-release
		}
	}
	go func() {
		arrived.Wait()
		once.Do(func() { close(release) })
	}()

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = fx.client.Get(context.Background(), "/todos/user/1")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), fx.api.refreshCalls.Load())
	fx.hooks.mu.Lock()
	assert.Equal(t, 1, fx.hooks.exchanged, "only the request that led the refresh reports the exchange")
	fx.hooks.mu.Unlock()

	cred, _ := fx.store.Get()
	assert.Equal(t, credstore.Credential{AccessToken: "A2", RefreshToken: "R2"}, cred)
}

func TestLogoutWhileInFlightSuppressesRefresh(t *testing.T) {
	fx := newFixture(t)
	fx.api.beforeReply = func() {
		fx.session.Logout()
	}

	_, err := fx.client.Get(context.Background(), "/todos/user/1")
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeAuth))

	assert.Equal(t, int32(0), fx.api.refreshCalls.Load())
	assert.Equal(t, session.StatusAnonymous, fx.session.Status())
	_, ok := fx.store.Get()
	assert.False(t, ok)
	assert.NotContains(t, *fx.events, session.StatusExpired, "logout is not an expiry")
}

func TestCancelledWaitDoesNotExpireSession(t *testing.T) {
	fx := newFixture(t)
	fx.api.refreshDelay = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := fx.client.Get(ctx, "/todos/user/1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEqual(t, session.StatusAnonymous, fx.session.Status())
}

func TestMe(t *testing.T) {
	fx := newFixture(t)

	user, err := fx.client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, int32(1), fx.api.refreshCalls.Load(), "whoAmI goes through the refresh path")
}

func TestOperationReportsToHooks(t *testing.T) {
	var got []string
	h := &opHooks{record: func(s string) { got = append(got, s) }}
	fx := newFixture(t)
	fx.client.hooks = h

	err := fx.client.Operation(context.Background(), OperationInfo{Service: "Todos", Operation: "List"}, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"start Todos.List", "end Todos.List"}, got)
}

type opHooks struct {
	NopHooks
	record func(string)
}

func (h *opHooks) OnOperationStart(ctx context.Context, op OperationInfo) context.Context {
	h.record("start " + op.Service + "." + op.Operation)
	return ctx
}

func (h *opHooks) OnOperationEnd(_ context.Context, op OperationInfo, _ error, _ time.Duration) {
	h.record("end " + op.Service + "." + op.Operation)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "NORMAL", StateNormal.String())
	assert.Equal(t, "REFRESHING", StateRefreshing.String())
	assert.Equal(t, "FAILED", StateFailed.String())
}

func TestRefreshNow(t *testing.T) {
	fx := newFixture(t)
	fx.api.next = gateway.TokenPair{AccessToken: "A2", RefreshToken: "R2"}

	require.NoError(t, fx.client.RefreshNow(context.Background()))

	cred, ok := fx.store.Get()
	require.True(t, ok)
	assert.Equal(t, "A2", cred.AccessToken)
	assert.Equal(t, "R2", cred.RefreshToken)
	assert.Equal(t, session.StatusAuthenticated, fx.session.Status())
	assert.Equal(t, []State{StateRefreshing, StateNormal}, fx.hooks.states)
	assert.Equal(t, int32(1), fx.api.refreshCalls.Load())
}

func TestRefreshNowRestoresStoredSession(t *testing.T) {
	fx := newFixture(t)
	store := credstore.NewMemoryStore(credstore.Credential{AccessToken: "A1", RefreshToken: "R1"})
	sess := session.New(store, zerolog.Nop())
	client := NewClient(Options{
		BaseURL:    fx.client.baseURL,
		HTTPClient: fx.client.httpClient,
		Session:    sess,
		Gateway:    gateway.New(fx.client.baseURL, fx.client.httpClient),
		Logger:     zerolog.Nop(),
	})

	require.NoError(t, client.RefreshNow(context.Background()))

	// The user is not known until whoAmI confirms it.
	assert.Equal(t, session.StatusAuthenticating, sess.Status())
	cred, _ := store.Get()
	assert.Equal(t, "A2", cred.AccessToken)
	assert.Equal(t, "R1", cred.RefreshToken, "a gateway that does not rotate keeps the old refresh token")
}

func TestRefreshNowRejected(t *testing.T) {
	fx := newFixture(t)
	fx.api.refreshStatus = http.StatusUnauthorized

	err := fx.client.RefreshNow(context.Background())
	assert.True(t, output.IsCode(err, output.CodeAuth))
	assert.Equal(t, session.StatusAnonymous, fx.session.Status())
	_, ok := fx.store.Get()
	assert.False(t, ok)
	assert.Contains(t, *fx.events, session.StatusExpired)
}

func TestRefreshNowWithoutCredentials(t *testing.T) {
	fx := newFixture(t)
	fx.store.Clear()

	err := fx.client.RefreshNow(context.Background())
	assert.True(t, output.IsCode(err, output.CodeAuth))
	assert.Equal(t, int32(0), fx.api.refreshCalls.Load())
}

func TestRefreshNowDisabled(t *testing.T) {
	fx := newFixture(t)
	client := NewClient(Options{
		BaseURL:    fx.client.baseURL,
		HTTPClient: fx.client.httpClient,
		Session:    fx.session,
		Logger:     zerolog.Nop(),
	})

	err := client.RefreshNow(context.Background())
	assert.True(t, output.IsCode(err, output.CodeUsage))
	assert.Equal(t, int32(0), fx.api.refreshCalls.Load())
}
