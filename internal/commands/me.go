package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest-cli/internal/appctx"
	"github.com/tasknest/tasknest-cli/internal/output"
)

// NewMeCmd creates the me command.
func NewMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			user, err := app.Hydrate(cmd.Context())
			if err != nil {
				return err
			}

			return app.OK(user,
				output.WithSummary(fmt.Sprintf("%s (%s)", user.DisplayName(), user.Email)),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "summary",
						Cmd:         "tasknest todos summary",
						Description: "Your task dashboard",
					},
				),
			)
		},
	}
}
