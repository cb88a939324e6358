// Package commands implements the CLI commands.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest-cli/internal/appctx"
	"github.com/tasknest/tasknest-cli/internal/output"
)

// CommandInfo describes a CLI command.
type CommandInfo struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Actions     []string `json:"actions,omitempty"`
}

// CommandCategory groups commands by category.
type CommandCategory struct {
	Name     string        `json:"name"`
	Commands []CommandInfo `json:"commands"`
}

// commandCategories returns all command categories for the catalog.
func commandCategories() []CommandCategory {
	return []CommandCategory{
		{
			Name: "Core Commands",
			Commands: []CommandInfo{
				{Name: "todos", Category: "core", Description: "Manage your tasks", Actions: []string{"list", "show", "create", "update", "done", "start", "reopen", "delete", "summary"}},
			},
		},
		{
			Name: "Shortcut Commands",
			Commands: []CommandInfo{
				{Name: "todo", Category: "shortcut", Description: "Create a task"},
				{Name: "done", Category: "shortcut", Description: "Complete a task"},
				{Name: "reopen", Category: "shortcut", Description: "Reopen a task"},
			},
		},
		{
			Name: "Auth & Config",
			Commands: []CommandInfo{
				{Name: "auth", Category: "auth", Description: "Sign in and manage the session", Actions: []string{"login", "logout", "status", "refresh", "token"}},
				{Name: "me", Category: "auth", Description: "Show the signed-in user"},
				{Name: "config", Category: "auth", Description: "Manage configuration", Actions: []string{"show", "set", "unset"}},
				{Name: "doctor", Category: "auth", Description: "Check CLI health and diagnose issues"},
			},
		},
		{
			Name: "Additional Commands",
			Commands: []CommandInfo{
				{Name: "commands", Category: "additional", Description: "List all commands"},
				{Name: "completion", Category: "additional", Description: "Generate shell completions", Actions: []string{"bash", "zsh", "fish", "powershell"}},
				{Name: "help", Category: "additional", Description: "Show help"},
				{Name: "version", Category: "additional", Description: "Show version"},
			},
		},
	}
}

// CatalogCommandNames returns all command names from the catalog.
// Used by tests to verify catalog matches registered commands.
func CatalogCommandNames() []string {
	categories := commandCategories()
	total := 0
	for _, cat := range categories {
		total += len(cat.Commands)
	}
	names := make([]string, 0, total)
	for _, cat := range categories {
		for _, cmd := range cat.Commands {
			names = append(names, cmd.Name)
		}
	}
	return names
}

// NewCommandsCmd creates the commands listing command.
func NewCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "commands",
		Aliases: []string{"cmds"},
		Short:   "List all available commands",
		Long:    "List all available tasknest commands organized by category.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			return app.OK(commandCategories(),
				output.WithSummary("All available tasknest commands"),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "help",
						Cmd:         "tasknest --help",
						Description: "View help",
					},
				),
			)
		},
	}
}
