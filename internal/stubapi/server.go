// Package stubapi is a local stand-in for the task API and its auth gateway.
// It speaks the same JSON contracts, issues short-lived HS256 access tokens
// with rotating refresh tokens, and keeps everything in memory.
package stubapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Defaults for token lifetimes.
const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour
)

// Options configures a Server.
type Options struct {
	// Secret signs access tokens. Required.
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Users replaces the built-in demo accounts.
	Users []SeedUser
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Logger     zerolog.Logger
}

// SeedUser is an account created at startup, with its initial tasks.
type SeedUser struct {
	Username  string
	Password  string
	Email     string
	FirstName string
	LastName  string
	Gender    string
	Todos     []string
}

// DemoUsers are the accounts a default server starts with.
func DemoUsers() []SeedUser {
	return []SeedUser{
		{
			Username: "emilys", Password: "emilyspass", Email: "emily.johnson@x.dummyjson.com",
			FirstName: "Emily", LastName: "Johnson", Gender: "female",
			Todos: []string{"Do something nice for someone you care about", "Memorize a poem", "Watch a classic movie"},
		},
		{
			Username: "michaelw", Password: "michaelwpass", Email: "michael.williams@x.dummyjson.com",
			FirstName: "Michael", LastName: "Williams", Gender: "male",
			Todos: []string{"Contribute code or a monetary donation to an open-source software project"},
		},
	}
}

type account struct {
	User
	hash []byte
}

type refreshRecord struct {
	userID  int
	expires time.Time
}

// Server holds the stub state. Safe for concurrent use.
type Server struct {
	opts   Options
	router *gin.Engine
	log    zerolog.Logger

	mu       sync.Mutex
	now      func() time.Time
	accounts map[string]*account // by username
	byID     map[int]*account
	refresh  map[string]refreshRecord
	todos    map[int]*Todo
	nextTodo int
}

// New creates a server seeded with opts.Users, or DemoUsers when none are
// given.
func New(opts Options) (*Server, error) {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Users == nil {
		opts.Users = DemoUsers()
	}

	s := &Server{
		opts:     opts,
		log:      opts.Logger,
		now:      time.Now,
		accounts: make(map[string]*account),
		byID:     make(map[int]*account),
		refresh:  make(map[string]refreshRecord),
		todos:    make(map[int]*Todo),
	}
	for i, su := range opts.Users {
		hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), opts.BcryptCost)
		if err != nil {
			return nil, err
		}
		a := &account{
			User: User{
				ID:        i + 1,
				Username:  su.Username,
				Email:     su.Email,
				FirstName: su.FirstName,
				LastName:  su.LastName,
				Gender:    su.Gender,
				Image:     "https://dummyjson.com/icon/" + su.Username + "/128",
			},
			hash: hash,
		}
		s.accounts[su.Username] = a
		s.byID[a.ID] = a
		for _, title := range su.Todos {
			s.nextTodo++
			s.todos[s.nextTodo] = &Todo{ID: s.nextTodo, Todo: title, UserID: a.ID}
		}
	}

	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetClock replaces the time source used for issuing and checking tokens.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Server) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// RevokeRefreshTokens forgets every issued refresh token, so the next
// refresh fails as if the session was revoked server side.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	s.refresh = make(map[string]refreshRecord)
	s.mu.Unlock()
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := r.Group("/auth")
	{
		auth.POST("/login", s.handleLogin)
		auth.POST("/refresh", s.handleRefresh)
		auth.GET("/me", s.requireAuth, s.handleMe)
	}

	todos := r.Group("/todos", s.requireAuth)
	{
		todos.GET("/user/:userId", s.handleListTodos)
		todos.POST("/add", s.handleAddTodo)
		todos.GET("/:id", s.handleGetTodo)
		todos.PUT("/:id", s.handleUpdateTodo)
		todos.DELETE("/:id", s.handleDeleteTodo)
	}
	return r
}

// logRequests never logs the Authorization header.
func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Info().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("took", time.Since(start)).
		Str("request_id", c.GetHeader("X-Request-ID")).
		Msg("request")
}

// abort answers with the API's error shape.
func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"message": msg})
}

// abortDetail answers with the login endpoint's error shape.
func abortDetail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}
