package stubapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Todo is a task as the API stores it.
type Todo struct {
	ID        int    `json:"id"`
	Todo      string `json:"todo"`
	Completed bool   `json:"completed"`
	UserID    int    `json:"userId"`
}

type todoList struct {
	Todos []Todo `json:"todos"`
	Total int    `json:"total"`
	Skip  int    `json:"skip"`
	Limit int    `json:"limit"`
}

func (s *Server) handleListTodos(c *gin.Context) {
	uid, err := strconv.Atoi(c.Param("userId"))
	if err != nil {
		abort(c, http.StatusBadRequest, "Invalid user id '"+c.Param("userId")+"'")
		return
	}
	if uid != c.GetInt(ctxUserID) {
		abort(c, http.StatusForbidden, "You can only list your own todos")
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))

	s.mu.Lock()
	all := make([]Todo, 0)
	for id := 1; id <= s.nextTodo; id++ {
		if t, ok := s.todos[id]; ok && t.UserID == uid {
			all = append(all, *t)
		}
	}
	s.mu.Unlock()

	page := all
	if skip > len(page) {
		skip = len(page)
	}
	page = page[skip:]
	// limit=0 means everything
	if limit > 0 && limit < len(page) {
		page = page[:limit]
	}
	c.JSON(http.StatusOK, todoList{Todos: page, Total: len(all), Skip: skip, Limit: len(page)})
}

func (s *Server) handleGetTodo(c *gin.Context) {
	t, ok := s.ownTodo(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleAddTodo(c *gin.Context) {
	var body struct {
		Todo      string `json:"todo"`
		Completed bool   `json:"completed"`
		UserID    int    `json:"userId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.Todo) == "" {
		abort(c, http.StatusBadRequest, "Todo is required")
		return
	}
	uid := c.GetInt(ctxUserID)
	if body.UserID != 0 && body.UserID != uid {
		abort(c, http.StatusForbidden, "You can only add todos for yourself")
		return
	}

	s.mu.Lock()
	s.nextTodo++
	t := &Todo{ID: s.nextTodo, Todo: body.Todo, Completed: body.Completed, UserID: uid}
	s.todos[t.ID] = t
	out := *t
	s.mu.Unlock()

	c.JSON(http.StatusCreated, out)
}

func (s *Server) handleUpdateTodo(c *gin.Context) {
	var body struct {
		Todo      *string `json:"todo"`
		Completed *bool   `json:"completed"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Todo != nil && strings.TrimSpace(*body.Todo) == "" {
		abort(c, http.StatusBadRequest, "Todo must not be empty")
		return
	}
	if _, ok := s.ownTodo(c); !ok {
		return
	}

	s.mu.Lock()
	t := s.todos[mustID(c)]
	if t == nil {
		s.mu.Unlock()
		abort(c, http.StatusNotFound, "Todo with id '"+c.Param("id")+"' not found")
		return
	}
	if body.Todo != nil {
		t.Todo = *body.Todo
	}
	if body.Completed != nil {
		t.Completed = *body.Completed
	}
	out := *t
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeleteTodo(c *gin.Context) {
	t, ok := s.ownTodo(c)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.todos, t.ID)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"id":        t.ID,
		"todo":      t.Todo,
		"completed": t.Completed,
		"userId":    t.UserID,
		"isDeleted": true,
		"deletedOn": s.clock().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}

// ownTodo loads the :id todo, answering 404 when it does not exist or
// belongs to someone else.
func (s *Server) ownTodo(c *gin.Context) (Todo, bool) {
	s.mu.Lock()
	var out Todo
	t := s.todos[mustID(c)]
	found := t != nil && t.UserID == c.GetInt(ctxUserID)
	if found {
		out = *t
	}
	s.mu.Unlock()

	if !found {
		abort(c, http.StatusNotFound, "Todo with id '"+c.Param("id")+"' not found")
		return Todo{}, false
	}
	return out, true
}

// mustID returns the :id param, or 0 (never a valid id) when malformed.
func mustID(c *gin.Context) int {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return 0
	}
	return id
}
