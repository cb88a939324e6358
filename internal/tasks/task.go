// Package tasks implements the signed-in user's task operations on top of
// the authenticated API client.
package tasks

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/tasknest/tasknest-cli/internal/output"
)

// Status is the workflow state of a task. The API only knows "completed";
// in-progress lives in the local overlay.
type Status string

const (
	StatusAll        Status = "all"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Limits on user input.
const (
	MinTitleLength       = 3
	MaxDescriptionLength = 200
)

// Task is a task as presented to the user.
type Task struct {
	ID          int    `json:"id"`
	Todo        string `json:"todo"`
	Status      Status `json:"status"`
	Completed   bool   `json:"completed"`
	Description string `json:"description,omitempty"`
	UserID      int    `json:"userId"`
}

// Input describes a new task.
type Input struct {
	Todo        string
	Description string
	Status      Status
	UserID      int
}

// Patch describes a partial update. Nil fields are left unchanged.
type Patch struct {
	Todo        *string
	Description *string
	Status      *Status
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Todo == nil && p.Description == nil && p.Status == nil
}

// ParseStatus validates a status name. Accepts "in_progress" and "doing" as
// spellings of in-progress.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return StatusAll, nil
	case "todo", "to-do":
		return StatusTodo, nil
	case "in-progress", "in_progress", "inprogress", "doing":
		return StatusInProgress, nil
	case "done", "completed":
		return StatusDone, nil
	default:
		return "", output.ErrUsageHint(
			fmt.Sprintf("Unknown status %q", s),
			"Valid statuses: all, todo, in-progress, done",
		)
	}
}

// Label returns the human form of s.
func (s Status) Label() string {
	switch s {
	case StatusDone:
		return "Done"
	case StatusInProgress:
		return "In Progress"
	default:
		return "To Do"
	}
}

// Filter narrows a task list by status and a search query.
type Filter struct {
	Status Status
	Search string
}

// Validate rejects statuses outside the known set.
func (f Filter) Validate() error {
	switch f.Status {
	case "", StatusAll, StatusTodo, StatusInProgress, StatusDone:
		return nil
	default:
		_, err := ParseStatus(string(f.Status))
		return err
	}
}

// Apply returns the tasks matching f, in their original order. Search is a
// case-insensitive substring match over the title and description.
func (f Filter) Apply(tasks []Task) []Task {
	fold := cases.Fold()
	query := fold.String(strings.TrimSpace(f.Search))

	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Status != "" && f.Status != StatusAll && t.Status != f.Status {
			continue
		}
		if query != "" &&
			!strings.Contains(fold.String(t.Todo), query) &&
			!strings.Contains(fold.String(t.Description), query) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Summary is the dashboard view of a task list.
type Summary struct {
	Total      int    `json:"total"`
	Done       int    `json:"done"`
	InProgress int    `json:"inProgress"`
	Pending    int    `json:"pending"`
	Recent     []Task `json:"recent"`
}

// Summarize counts tasks by status and keeps the first n as recent.
func Summarize(tasks []Task, n int) Summary {
	s := Summary{Total: len(tasks), Recent: []Task{}}
	for _, t := range tasks {
		switch t.Status {
		case StatusDone:
			s.Done++
		case StatusInProgress:
			s.InProgress++
		}
	}
	s.Pending = s.Total - s.Done
	if n > len(tasks) {
		n = len(tasks)
	}
	s.Recent = append(s.Recent, tasks[:n]...)
	return s
}

func validateTitle(title string) error {
	if utf8.RuneCountInString(strings.TrimSpace(title)) < MinTitleLength {
		return output.ErrUsage(fmt.Sprintf("Title must be at least %d characters.", MinTitleLength))
	}
	return nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return output.ErrUsage(fmt.Sprintf("Description must not exceed %d characters.", MaxDescriptionLength))
	}
	return nil
}

func validateStatus(s Status) error {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return nil
	default:
		return output.ErrUsageHint(
			fmt.Sprintf("Invalid task status %q", s),
			"Valid statuses: todo, in-progress, done",
		)
	}
}
