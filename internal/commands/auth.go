package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest-cli/internal/appctx"
	"github.com/tasknest/tasknest-cli/internal/gateway"
	"github.com/tasknest/tasknest-cli/internal/hostutil"
	"github.com/tasknest/tasknest-cli/internal/output"
	"github.com/tasknest/tasknest-cli/internal/tui"
)

// NewAuthCmd creates the auth command.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Sign in, sign out, and inspect the stored session.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRefreshCmd(),
		newAuthTokenCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var username string
	var passwordStdin bool
	var expiresIn int

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a username and password",
		Long: `Sign in and store the session for later commands.

On a terminal, missing credentials are prompted for. In scripts, pass the
username as a flag and the password on stdin:

  echo "$PASSWORD" | tasknest auth login --username emilys --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}
			if app.StaticToken() {
				return output.ErrUsageHint("Credentials come from TASKNEST_TOKEN", "Unset TASKNEST_TOKEN to sign in with a password")
			}

			var password string
			if passwordStdin {
				p, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}

			if username == "" || password == "" {
				if !app.IsInteractive() {
					return output.ErrUsageHint("Username and password required", "Pass --username and --password-stdin")
				}
				if err := tui.Credentials(&username, &password); err != nil {
					return err
				}
			}

			if expiresIn > 0 {
				app.Gateway.TokenLifetimeMins = expiresIn
			}
			return login(cmd.Context(), app, strings.TrimSpace(username), password)
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	cmd.Flags().IntVar(&expiresIn, "expires-in", 0, "Access token lifetime in minutes (gateway default if unset)")

	return cmd
}

// login runs the sign-in flow against the gateway and records the outcome on
// the session. A rejected attempt leaves the session anonymous.
func login(ctx context.Context, app *appctx.App, username, password string) error {
	app.Session.BeginLogin()

	res, err := app.Gateway.Login(ctx, username, password)
	if err != nil {
		app.Session.LoginFailed()
		return err
	}
	app.Session.LoginSucceeded(res.User, res.Tokens)

	return app.OK(res.User,
		output.WithSummary(fmt.Sprintf("Signed in as %s (%s)", res.User.DisplayName(), res.User.Username)),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "list",
				Cmd:         "tasknest todos",
				Description: "List your tasks",
			},
			output.Breadcrumb{
				Action:      "create",
				Cmd:         "tasknest todo <title>",
				Description: "Create a task",
			},
		),
	)
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}
			if app.StaticToken() {
				return output.ErrUsageHint("Credentials come from TASKNEST_TOKEN", "Unset TASKNEST_TOKEN to sign out")
			}

			_, had := app.Store.Get()
			app.Session.Logout()

			summary := "Signed out"
			if !had {
				summary = "Not signed in"
			}
			return app.OK(map[string]any{
				"status": "logged_out",
				"origin": hostutil.Origin(app.Config.BaseURL),
			},
				output.WithSummary(summary),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "login",
					Cmd:         "tasknest auth login",
					Description: "Sign in again",
				}),
			)
		},
	}
}

// authStatus is the output of auth status.
type authStatus struct {
	Authenticated bool          `json:"authenticated"`
	Origin        string        `json:"origin"`
	Backend       string        `json:"backend"`
	CanRefresh    bool          `json:"canRefresh"`
	ExpiresAt     string        `json:"expiresAt,omitempty"`
	ExpiresIn     string        `json:"expiresIn,omitempty"`
	Expired       bool          `json:"expired"`
	User          *gateway.User `json:"user,omitempty"`
}

func newAuthStatusCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Long: `Show whether credentials are stored and when the access token expires.

With --check the session is confirmed against the API, refreshing an expired
access token once if needed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			status := authStatus{
				Origin:  hostutil.Origin(app.Config.BaseURL),
				Backend: app.Store.Backend(),
			}

			cred, ok := app.Store.Get()
			if !ok {
				return app.OK(status,
					output.WithSummary("Not signed in"),
					output.WithBreadcrumbs(output.Breadcrumb{
						Action:      "login",
						Cmd:         "tasknest auth login",
						Description: "Sign in",
					}),
				)
			}

			status.Authenticated = true
			status.CanRefresh = cred.RefreshToken != "" && !app.StaticToken()
			if exp, ok := tokenExpiry(cred.AccessToken); ok {
				left := time.Until(exp)
				status.ExpiresAt = exp.UTC().Format(time.RFC3339)
				status.ExpiresIn = humanDuration(left)
				status.Expired = left <= 0
			}

			if check {
				user, err := app.Hydrate(cmd.Context())
				if err != nil {
					return err
				}
				status.User = user
				status.Expired = false
				if cred, ok := app.Store.Get(); ok {
					if exp, ok := tokenExpiry(cred.AccessToken); ok {
						status.ExpiresAt = exp.UTC().Format(time.RFC3339)
						status.ExpiresIn = humanDuration(time.Until(exp))
					}
				}
			}

			summary := "Signed in"
			switch {
			case status.User != nil:
				summary = fmt.Sprintf("Signed in as %s (%s)", status.User.DisplayName(), status.User.Username)
			case status.Expired && status.CanRefresh:
				summary = "Signed in (access token expired, will refresh on next request)"
			case status.Expired:
				summary = "Access token expired"
			}
			return app.OK(status, output.WithSummary(summary))
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Confirm the session against the API")

	return cmd
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token now",
		Long: `Exchange the stored refresh token for a new token pair.

Commands refresh automatically when the API rejects an expired token, so
this is rarely needed. A rejected refresh token ends the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			if err := app.Client.RefreshNow(cmd.Context()); err != nil {
				return err
			}

			data := map[string]any{"status": "refreshed"}
			if cred, ok := app.Store.Get(); ok {
				if exp, ok := tokenExpiry(cred.AccessToken); ok {
					data["expiresAt"] = exp.UTC().Format(time.RFC3339)
				}
			}
			return app.OK(data, output.WithSummary("Token refreshed"))
		},
	}
}

func newAuthTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the access token",
		Long: `Print the current access token for use with other tools.

An access token that has already expired is refreshed first.

  curl -H "Authorization: Bearer $(tasknest auth token)" ...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			cred, ok := app.Store.Get()
			if !ok {
				return output.ErrAuth("Not signed in")
			}
			if exp, ok := tokenExpiry(cred.AccessToken); ok && !time.Now().Before(exp) && !app.StaticToken() {
				if err := app.Client.RefreshNow(cmd.Context()); err != nil {
					return err
				}
				cred, _ = app.Store.Get()
			}

			// Raw token by default so it works in shell substitution.
			if app.Flags.JSON || app.Flags.YAML {
				return app.OK(map[string]string{"token": cred.AccessToken})
			}
			_, err := fmt.Fprintln(app.Stdout, cred.AccessToken)
			return err
		},
	}
}
