package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tasknest/tasknest-cli/internal/api"
	"github.com/tasknest/tasknest-cli/internal/output"
)

const serviceName = "Todos"

// apiTask is a task as the API returns it.
type apiTask struct {
	ID        int    `json:"id"`
	Todo      string `json:"todo"`
	Completed bool   `json:"completed"`
	UserID    int    `json:"userId"`
}

type listResponse struct {
	Todos []apiTask `json:"todos"`
	Total int       `json:"total"`
	Skip  int       `json:"skip"`
	Limit int       `json:"limit"`
}

// Service performs task operations for the signed-in user.
type Service struct {
	client  *api.Client
	overlay *Overlay
	cache   *listCache
	log     zerolog.Logger

	// OnCacheHit is called when List is answered without a request.
	OnCacheHit func()
}

// NewService creates a task service. A nil overlay keeps local state in
// memory. A ttl of zero disables caching; concurrent List calls are still
// coalesced.
func NewService(client *api.Client, overlay *Overlay, ttl time.Duration, log zerolog.Logger) *Service {
	if overlay == nil {
		overlay = NewOverlay("", "", log)
	}
	return &Service{
		client:  client,
		overlay: overlay,
		cache:   newListCache(ttl),
		log:     log,
	}
}

// List returns the user's tasks matching f.
func (s *Service) List(ctx context.Context, userID int, f Filter) ([]Task, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var out []Task
	err := s.client.Operation(ctx, api.OperationInfo{Service: serviceName, Operation: "List"}, func(ctx context.Context) error {
		all, hit, err := s.cache.get(userID, func() ([]Task, error) {
			return s.fetchAll(ctx, userID)
		})
		if err != nil {
			return err
		}
		if hit && s.OnCacheHit != nil {
			s.OnCacheHit()
		}
		out = f.Apply(all)
		return nil
	})
	return out, err
}

func (s *Service) fetchAll(ctx context.Context, userID int) ([]Task, error) {
	req := api.NewRequest(http.MethodGet, fmt.Sprintf("/todos/user/%d", userID), nil)
	req.Query = url.Values{"limit": {"0"}}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	var list listResponse
	if err := resp.UnmarshalData(&list); err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(list.Todos))
	for _, t := range list.Todos {
		tasks = append(tasks, s.present(t))
	}
	s.log.Debug().Int("user_id", userID).Int("count", len(tasks)).Msg("fetched tasks")
	return tasks, nil
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, id int) (*Task, error) {
	var task *Task
	op := api.OperationInfo{Service: serviceName, Operation: "Get", ResourceID: id}
	err := s.client.Operation(ctx, op, func(ctx context.Context) error {
		resp, err := s.client.Get(ctx, taskPath(id))
		if err != nil {
			return err
		}
		var t apiTask
		if err := resp.UnmarshalData(&t); err != nil {
			return err
		}
		p := s.present(t)
		task = &p
		return nil
	})
	return task, err
}

// Create adds a task. An empty status means todo.
func (s *Service) Create(ctx context.Context, in Input) (*Task, error) {
	if in.Status == "" {
		in.Status = StatusTodo
	}
	if err := validateTitle(in.Todo); err != nil {
		return nil, err
	}
	if err := validateDescription(in.Description); err != nil {
		return nil, err
	}
	if err := validateStatus(in.Status); err != nil {
		return nil, err
	}

	var task *Task
	op := api.OperationInfo{Service: serviceName, Operation: "Create", IsMutation: true}
	err := s.client.Operation(ctx, op, func(ctx context.Context) error {
		body := map[string]any{
			"todo":      strings.TrimSpace(in.Todo),
			"completed": in.Status == StatusDone,
			"userId":    in.UserID,
		}
		resp, err := s.client.Post(ctx, "/todos/add", body)
		if err != nil {
			return err
		}
		s.cache.invalidate()

		var t apiTask
		if err := resp.UnmarshalData(&t); err != nil {
			return err
		}
		s.overlay.Set(t.ID, OverlayEntry{Status: localStatus(in.Status), Description: in.Description})
		p := s.present(t)
		task = &p
		return nil
	})
	return task, err
}

// Update applies a partial change to a task.
func (s *Service) Update(ctx context.Context, id int, p Patch) (*Task, error) {
	if p.Empty() {
		return nil, output.ErrUsageHint("Nothing to update", "Pass --title, --status or --description")
	}
	if p.Todo != nil {
		if err := validateTitle(*p.Todo); err != nil {
			return nil, err
		}
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return nil, err
		}
	}
	if p.Status != nil {
		if err := validateStatus(*p.Status); err != nil {
			return nil, err
		}
	}

	var task *Task
	op := api.OperationInfo{Service: serviceName, Operation: "Update", IsMutation: true, ResourceID: id}
	err := s.client.Operation(ctx, op, func(ctx context.Context) error {
		body := map[string]any{}
		if p.Todo != nil {
			body["todo"] = strings.TrimSpace(*p.Todo)
		}
		if p.Status != nil {
			body["completed"] = *p.Status == StatusDone
		}

		var t apiTask
		if len(body) > 0 {
			resp, err := s.client.Put(ctx, taskPath(id), body)
			if err != nil {
				return err
			}
			if err := resp.UnmarshalData(&t); err != nil {
				return err
			}
		} else {
			// Description only: nothing for the API, but the task must exist.
			resp, err := s.client.Get(ctx, taskPath(id))
			if err != nil {
				return err
			}
			if err := resp.UnmarshalData(&t); err != nil {
				return err
			}
		}
		s.cache.invalidate()

		entry, _ := s.overlay.Get(id)
		if p.Status != nil {
			entry.Status = localStatus(*p.Status)
		}
		if p.Description != nil {
			entry.Description = *p.Description
		}
		s.overlay.Set(id, entry)

		pt := s.present(t)
		task = &pt
		return nil
	})
	return task, err
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id int) error {
	op := api.OperationInfo{Service: serviceName, Operation: "Delete", IsMutation: true, ResourceID: id}
	return s.client.Operation(ctx, op, func(ctx context.Context) error {
		if _, err := s.client.Delete(ctx, taskPath(id)); err != nil {
			return err
		}
		s.cache.invalidate()
		s.overlay.Delete(id)
		return nil
	})
}

// present merges an API task with its overlay entry.
func (s *Service) present(t apiTask) Task {
	task := Task{
		ID:        t.ID,
		Todo:      t.Todo,
		Completed: t.Completed,
		UserID:    t.UserID,
		Status:    StatusTodo,
	}
	entry, _ := s.overlay.Get(t.ID)
	task.Description = entry.Description
	switch {
	case t.Completed:
		task.Status = StatusDone
	case entry.Status == StatusInProgress:
		task.Status = StatusInProgress
	}
	return task
}

// localStatus is the part of a status the API cannot store.
func localStatus(st Status) Status {
	if st == StatusInProgress {
		return StatusInProgress
	}
	return ""
}

func taskPath(id int) string {
	return "/todos/" + strconv.Itoa(id)
}
