package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest-cli/internal/appctx"
	"github.com/tasknest/tasknest-cli/internal/output"
	"github.com/tasknest/tasknest-cli/internal/tasks"
	"github.com/tasknest/tasknest-cli/internal/tui"
)

// recentCount is how many tasks the summary lists.
const recentCount = 5

// todosListFlags holds the flags for the todos list command.
type todosListFlags struct {
	status string
	search string
}

// NewTodosCmd creates the todos command group.
func NewTodosCmd() *cobra.Command {
	var flags todosListFlags

	cmd := &cobra.Command{
		Use:     "todos",
		Aliases: []string{"tasks"},
		Short:   "Manage your tasks",
		Long:    "List, show, create, and manage your tasks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to list when called without subcommand
			return runTodosList(cmd, flags)
		},
	}

	addListFlags(cmd, &flags)

	cmd.AddCommand(
		newTodosListCmd(),
		newTodosShowCmd(),
		newTodosCreateCmd(),
		newTodosUpdateCmd(),
		newTodosStatusCmd("done", []string{"complete"}, tasks.StatusDone),
		newTodosStatusCmd("start", nil, tasks.StatusInProgress),
		newTodosStatusCmd("reopen", []string{"uncomplete"}, tasks.StatusTodo),
		newTodosDeleteCmd(),
		newTodosSummaryCmd(),
	)

	return cmd
}

// NewTodoCmd creates the 'todo' command as a shortcut for 'todos create'.
func NewTodoCmd() *cobra.Command {
	cmd := newTodosCreateCmd()
	cmd.Use = "todo <title>"
	cmd.Aliases = nil
	cmd.Short = "Create a task (shortcut for 'todos create')"
	return cmd
}

// NewDoneCmd creates the 'done' command as a shortcut for 'todos done'.
func NewDoneCmd() *cobra.Command {
	return newTodosStatusCmd("done", nil, tasks.StatusDone)
}

// NewReopenCmd creates the 'reopen' command as a shortcut for 'todos reopen'.
func NewReopenCmd() *cobra.Command {
	return newTodosStatusCmd("reopen", nil, tasks.StatusTodo)
}

func addListFlags(cmd *cobra.Command, flags *todosListFlags) {
	cmd.Flags().StringVarP(&flags.status, "status", "s", "", "Filter by status (all, todo, in-progress, done)")
	cmd.Flags().StringVar(&flags.search, "search", "", "Only tasks whose title or description contains this text")
	_ = cmd.RegisterFlagCompletionFunc("status", completeStatus(true))
}

func newTodosListCmd() *cobra.Command {
	var flags todosListFlags

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTodosList(cmd, flags)
		},
	}

	addListFlags(cmd, &flags)

	return cmd
}

func runTodosList(cmd *cobra.Command, flags todosListFlags) error {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return fmt.Errorf("app not initialized")
	}

	// Validate user input before touching the network
	status, err := tasks.ParseStatus(flags.status)
	if err != nil {
		return err
	}

	user, err := app.Hydrate(cmd.Context())
	if err != nil {
		return err
	}

	filter := tasks.Filter{Status: status, Search: flags.search}
	list, err := app.Tasks.List(cmd.Context(), user.ID, filter)
	if err != nil {
		return err
	}

	summary := fmt.Sprintf("%d task(s)", len(list))
	if status != tasks.StatusAll {
		summary = fmt.Sprintf("%d %s task(s)", len(list), strings.ToLower(status.Label()))
	}
	if q := strings.TrimSpace(flags.search); q != "" {
		summary += fmt.Sprintf(" matching %q", q)
	}

	return app.OK(list,
		output.WithSummary(summary),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "create",
				Cmd:         "tasknest todo <title>",
				Description: "Create a task",
			},
			output.Breadcrumb{
				Action:      "complete",
				Cmd:         "tasknest done <id>",
				Description: "Complete a task",
			},
			output.Breadcrumb{
				Action:      "show",
				Cmd:         "tasknest todos show <id>",
				Description: "Show task details",
			},
		),
	)
}

func newTodosShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := app.Hydrate(cmd.Context()); err != nil {
				return err
			}

			task, err := app.Tasks.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			return app.OK(task,
				output.WithSummary(fmt.Sprintf("#%d %s [%s]", task.ID, task.Todo, task.Status.Label())),
				output.WithBreadcrumbs(taskBreadcrumbs(task)...),
			)
		},
	}
}

func newTodosCreateCmd() *cobra.Command {
	var status string
	var description string

	cmd := &cobra.Command{
		Use:     "create <title>",
		Aliases: []string{"add", "new"},
		Short:   "Create a task",
		Long: `Create a task. The title is every argument joined with spaces.

Descriptions and the in-progress status are kept on this machine; the API
only stores the title and whether the task is completed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			title := strings.TrimSpace(strings.Join(args, " "))
			if title == "" {
				if !app.IsInteractive() {
					return output.ErrUsage("Task title required")
				}
				t, err := tui.InputRequired("Title", "What needs doing?")
				if err != nil {
					return err
				}
				title = t
			}

			st := tasks.StatusTodo
			if status != "" {
				parsed, err := tasks.ParseStatus(status)
				if err != nil {
					return err
				}
				st = parsed
			}

			user, err := app.Hydrate(cmd.Context())
			if err != nil {
				return err
			}

			task, err := app.Tasks.Create(cmd.Context(), tasks.Input{
				Todo:        title,
				Description: description,
				Status:      st,
				UserID:      user.ID,
			})
			if err != nil {
				return err
			}

			return app.OK(task,
				output.WithSummary(fmt.Sprintf("Created task #%d: %s", task.ID, task.Todo)),
				output.WithBreadcrumbs(taskBreadcrumbs(task)...),
			)
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Initial status (todo, in-progress, done)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	_ = cmd.RegisterFlagCompletionFunc("status", completeStatus(false))

	return cmd
}

func newTodosUpdateCmd() *cobra.Command {
	var title string
	var status string
	var description string

	cmd := &cobra.Command{
		Use:     "update <id>",
		Aliases: []string{"edit"},
		Short:   "Change a task's title, status, or description",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var patch tasks.Patch
			if cmd.Flags().Changed("title") {
				patch.Todo = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("status") {
				st, err := tasks.ParseStatus(status)
				if err != nil {
					return err
				}
				if st == tasks.StatusAll {
					return output.ErrUsageHint("A task cannot have status \"all\"", "Use todo, in-progress or done")
				}
				patch.Status = &st
			}

			if _, err := app.Hydrate(cmd.Context()); err != nil {
				return err
			}

			task, err := app.Tasks.Update(cmd.Context(), id, patch)
			if err != nil {
				return err
			}

			return app.OK(task,
				output.WithSummary(fmt.Sprintf("Updated task #%d", task.ID)),
				output.WithBreadcrumbs(taskBreadcrumbs(task)...),
			)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVarP(&status, "status", "s", "", "New status (todo, in-progress, done)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description (empty to clear)")
	_ = cmd.RegisterFlagCompletionFunc("status", completeStatus(false))

	return cmd
}

// newTodosStatusCmd builds done, start and reopen, which differ only in the
// status they set.
func newTodosStatusCmd(name string, aliases []string, status tasks.Status) *cobra.Command {
	verbs := map[tasks.Status]string{
		tasks.StatusDone:       "Complete",
		tasks.StatusInProgress: "Start",
		tasks.StatusTodo:       "Reopen",
	}

	return &cobra.Command{
		Use:     name + " <id> [id...]",
		Aliases: aliases,
		Short:   fmt.Sprintf("%s task(s)", verbs[status]),
		Long:    fmt.Sprintf("Mark one or more tasks as %s.", strings.ToLower(status.Label())),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setStatus(cmd, args, status)
		},
	}
}

func setStatus(cmd *cobra.Command, args []string, status tasks.Status) error {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return fmt.Errorf("app not initialized")
	}

	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	if _, err := app.Hydrate(cmd.Context()); err != nil {
		return err
	}

	var updated []tasks.Task
	var failed []int
	for _, id := range ids {
		task, err := app.Tasks.Update(cmd.Context(), id, tasks.Patch{Status: &status})
		if err != nil {
			// A single task, or a session that just ended, reports the error itself.
			if len(ids) == 1 || output.IsCode(err, output.CodeAuth) {
				return err
			}
			app.Log.Debug().Err(err).Int("id", id).Msg("status change failed")
			failed = append(failed, id)
			continue
		}
		updated = append(updated, *task)
	}

	summary := fmt.Sprintf("Marked %d task(s) %s", len(updated), strings.ToLower(status.Label()))
	if len(failed) > 0 {
		summary = fmt.Sprintf("%s, failed %d (%s)", summary, len(failed), idsArg(failed))
	}

	crumbs := []output.Breadcrumb{{
		Action:      "list",
		Cmd:         "tasknest todos",
		Description: "List your tasks",
	}}
	if status == tasks.StatusDone {
		crumbs = append(crumbs, output.Breadcrumb{
			Action:      "reopen",
			Cmd:         "tasknest reopen " + idsArg(ids),
			Description: "Undo",
		})
	}

	return app.OK(updated,
		output.WithSummary(summary),
		output.WithBreadcrumbs(crumbs...),
	)
}

func newTodosDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := app.Hydrate(cmd.Context()); err != nil {
				return err
			}

			if !force && app.IsInteractive() {
				ok, err := tui.ConfirmDangerous(fmt.Sprintf("Delete task #%d?", id))
				if err != nil {
					return err
				}
				if !ok {
					return output.ErrUsage("Canceled")
				}
			}

			if err := app.Tasks.Delete(cmd.Context(), id); err != nil {
				return err
			}

			return app.OK(map[string]any{"id": id, "deleted": true},
				output.WithSummary(fmt.Sprintf("Deleted task #%d", id)),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "list",
					Cmd:         "tasknest todos",
					Description: "List your tasks",
				}),
			)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")

	return cmd
}

func newTodosSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "summary",
		Aliases: []string{"dashboard"},
		Short:   "Show task counts and recent tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			user, err := app.Hydrate(cmd.Context())
			if err != nil {
				return err
			}

			list, err := app.Tasks.List(cmd.Context(), user.ID, tasks.Filter{})
			if err != nil {
				return err
			}
			s := tasks.Summarize(list, recentCount)

			return app.OK(s,
				output.WithSummary(fmt.Sprintf("Welcome back, %s: %d task(s), %d done, %d in progress, %d pending",
					user.DisplayName(), s.Total, s.Done, s.InProgress, s.Pending)),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "pending",
						Cmd:         "tasknest todos --status todo",
						Description: "List pending tasks",
					},
					output.Breadcrumb{
						Action:      "create",
						Cmd:         "tasknest todo <title>",
						Description: "Create a task",
					},
				),
			)
		},
	}
}

func taskBreadcrumbs(t *tasks.Task) []output.Breadcrumb {
	crumbs := []output.Breadcrumb{{
		Action:      "update",
		Cmd:         fmt.Sprintf("tasknest todos update %d --title <title>", t.ID),
		Description: "Edit the task",
	}}
	if t.Status == tasks.StatusDone {
		crumbs = append(crumbs, output.Breadcrumb{
			Action:      "reopen",
			Cmd:         fmt.Sprintf("tasknest reopen %d", t.ID),
			Description: "Reopen the task",
		})
	} else {
		crumbs = append(crumbs, output.Breadcrumb{
			Action:      "complete",
			Cmd:         fmt.Sprintf("tasknest done %d", t.ID),
			Description: "Complete the task",
		})
	}
	return append(crumbs, output.Breadcrumb{
		Action:      "delete",
		Cmd:         fmt.Sprintf("tasknest todos delete %d", t.ID),
		Description: "Delete the task",
	})
}
