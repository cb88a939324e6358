package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest-cli/internal/appctx"
	"github.com/tasknest/tasknest-cli/internal/config"
	"github.com/tasknest/tasknest-cli/internal/hostutil"
	"github.com/tasknest/tasknest-cli/internal/output"
	"github.com/tasknest/tasknest-cli/internal/version"
)

// Check represents a single diagnostic check result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "fail", "skip", "warn"
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// DoctorResult holds the complete diagnostic results.
type DoctorResult struct {
	Checks  []Check `json:"checks"`
	Passed  int     `json:"passed"`
	Failed  int     `json:"failed"`
	Warned  int     `json:"warned"`
	Skipped int     `json:"skipped"`
}

// Summary returns a human-readable summary of the results.
func (r *DoctorResult) Summary() string {
	if r.Failed == 0 && r.Warned == 0 && r.Passed > 0 {
		if r.Skipped > 0 {
			return fmt.Sprintf("All %d checks passed, %d skipped", r.Passed, r.Skipped)
		}
		return fmt.Sprintf("All %d checks passed", r.Passed)
	}
	parts := []string{}
	if r.Passed > 0 {
		parts = append(parts, fmt.Sprintf("%d passed", r.Passed))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	if r.Warned > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", r.Warned, pluralize(r.Warned, "warning", "warnings")))
	}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", r.Skipped))
	}
	return strings.Join(parts, ", ")
}

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check CLI health and diagnose issues",
		Long: `Run diagnostic checks on configuration, credentials, and API connectivity.

An expired access token is refreshed as part of the check, the same way any
other command would refresh it.

Examples:
  tasknest doctor              # Run all diagnostic checks
  tasknest doctor --json       # Output results as JSON`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			checks := runDoctorChecks(cmd.Context(), app, verbose)
			result := summarizeChecks(checks)

			if app.Output.EffectiveFormat() == output.FormatStyled {
				renderDoctorStyled(app.Stdout, app.Output.Theme(), result)
				return nil
			}

			opts := []output.ResponseOption{
				output.WithSummary(result.Summary()),
			}
			if breadcrumbs := buildDoctorBreadcrumbs(checks); len(breadcrumbs) > 0 {
				opts = append(opts, output.WithBreadcrumbs(breadcrumbs...))
			}
			return app.OK(result, opts...)
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show additional debug information")

	return cmd
}

// runDoctorChecks executes all diagnostic checks.
func runDoctorChecks(ctx context.Context, app *appctx.App, verbose bool) []Check {
	checks := []Check{checkVersion(verbose)}
	if verbose {
		checks = append(checks, checkRuntime())
	}
	checks = append(checks, checkConfigFile(config.GlobalConfigPath(), verbose))

	credCheck := checkCredentials(app, verbose)
	checks = append(checks, credCheck)

	if credCheck.Status == "fail" {
		checks = append(checks,
			Check{Name: "Authentication", Status: "skip", Message: "Skipped (no credentials)", Hint: "Run: tasknest auth login"},
			Check{Name: "API Connectivity", Status: "skip", Message: "Skipped (not authenticated)"},
		)
	} else {
		authCheck := checkAuthentication(ctx, app, verbose)
		checks = append(checks, authCheck)
		if authCheck.Status == "fail" {
			checks = append(checks, Check{Name: "API Connectivity", Status: "skip", Message: "Skipped (not authenticated)"})
		} else {
			checks = append(checks, checkAPIConnectivity(ctx, app, verbose))
		}
	}

	return append(checks, checkCacheHealth(app.Config.CacheDir))
}

// checkVersion reports the CLI version.
func checkVersion(verbose bool) Check {
	check := Check{Name: "CLI Version", Status: "pass", Message: version.Version}
	if version.IsDev() {
		check.Message = "dev (built from source)"
	}
	if verbose {
		check.Message += fmt.Sprintf(" [commit: %s, date: %s]", version.Commit, version.Date)
	}
	return check
}

// checkRuntime returns Go runtime information.
func checkRuntime() Check {
	return Check{
		Name:    "Runtime",
		Status:  "pass",
		Message: fmt.Sprintf("Go %s (%s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

// checkConfigFile validates the global config file if one exists.
func checkConfigFile(path string, verbose bool) Check {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is the user's config file
	if err != nil {
		if os.IsNotExist(err) {
			return Check{Name: "Config", Status: "pass", Message: "Using defaults (no config file)"}
		}
		return Check{
			Name:    "Config",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot read: %s", path),
			Hint:    fmt.Sprintf("Check file permissions: %v", err),
		}
	}

	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Check{
			Name:    "Config",
			Status:  "fail",
			Message: fmt.Sprintf("Invalid JSON: %s", path),
			Hint:    fmt.Sprintf("JSON error: %v", err),
		}
	}

	msg := path
	if verbose {
		msg = fmt.Sprintf("%s (%d keys)", path, len(cfg))
	}
	return Check{Name: "Config", Status: "pass", Message: msg}
}

// checkCredentials checks for stored credentials.
func checkCredentials(app *appctx.App, verbose bool) Check {
	check := Check{Name: "Credentials"}

	if app.StaticToken() {
		check.Status = "pass"
		check.Message = "Using TASKNEST_TOKEN environment variable"
		return check
	}

	cred, ok := app.Store.Get()
	if !ok {
		check.Status = "fail"
		check.Message = "No credentials found"
		check.Hint = "Run: tasknest auth login"
		return check
	}

	check.Status = "pass"
	switch app.Store.Backend() {
	case "keyring":
		check.Message = "Stored in system keyring"
	case "file":
		check.Message = "Stored in " + config.GlobalConfigDir()
	default:
		check.Message = "Stored (" + app.Store.Backend() + ")"
	}
	if verbose {
		check.Message += " for " + hostutil.Origin(app.Config.BaseURL)
	}
	if cred.RefreshToken == "" {
		check.Status = "warn"
		check.Hint = "No refresh token stored; sign in again when the access token expires"
	}
	return check
}

// checkAuthentication checks access token expiry, refreshing an expired one.
func checkAuthentication(ctx context.Context, app *appctx.App, verbose bool) Check {
	check := Check{Name: "Authentication"}

	if app.StaticToken() {
		check.Status = "pass"
		check.Message = "Valid (via TASKNEST_TOKEN)"
		return check
	}

	cred, _ := app.Store.Get()
	exp, ok := tokenExpiry(cred.AccessToken)
	if !ok {
		check.Status = "pass"
		check.Message = "Valid"
		return check
	}

	expiresIn := time.Until(exp)
	switch {
	case expiresIn <= 0:
		if err := app.Client.RefreshNow(ctx); err != nil {
			check.Status = "fail"
			check.Message = "Token expired and refresh failed"
			check.Hint = "Run: tasknest auth login"
			return check
		}
		check.Status = "pass"
		check.Message = "Valid (refreshed)"
	case expiresIn < 5*time.Minute:
		check.Status = "warn"
		check.Message = fmt.Sprintf("Token expires in %s", expiresIn.Round(time.Second))
		check.Hint = "Token will refresh on the next rejected request"
	default:
		check.Status = "pass"
		check.Message = "Valid"
		if verbose {
			check.Message = fmt.Sprintf("Valid (expires in %s)", humanDuration(expiresIn))
		}
	}
	return check
}

// checkAPIConnectivity confirms the session against the API.
func checkAPIConnectivity(ctx context.Context, app *appctx.App, verbose bool) Check {
	check := Check{Name: "API Connectivity"}

	start := time.Now()
	user, err := app.Hydrate(ctx)
	latency := time.Since(start)

	if err != nil {
		check.Status = "fail"
		check.Message = "Cannot reach " + hostutil.Origin(app.Config.BaseURL)
		check.Hint = fmt.Sprintf("Error: %v", err)
		return check
	}

	check.Status = "pass"
	check.Message = "Signed in as " + user.Username
	if verbose {
		check.Message += fmt.Sprintf(" (%dms)", latency.Milliseconds())
	}
	return check
}

// checkCacheHealth checks the directory holding local task data.
func checkCacheHealth(dir string) Check {
	check := Check{Name: "Cache"}

	if dir == "" {
		check.Status = "warn"
		check.Message = "Cache directory not configured"
		check.Hint = "Descriptions and in-progress status will not persist"
		return check
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		check.Status = "pass"
		check.Message = fmt.Sprintf("%s (will be created on first use)", dir)
	case err != nil:
		check.Status = "warn"
		check.Message = fmt.Sprintf("Cannot access: %s", dir)
		check.Hint = fmt.Sprintf("Error: %v", err)
	case !info.IsDir():
		check.Status = "fail"
		check.Message = fmt.Sprintf("%s exists but is not a directory", dir)
	default:
		check.Status = "pass"
		check.Message = dir
	}
	return check
}

// summarizeChecks counts results by status.
func summarizeChecks(checks []Check) *DoctorResult {
	result := &DoctorResult{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case "pass":
			result.Passed++
		case "fail":
			result.Failed++
		case "warn":
			result.Warned++
		case "skip":
			result.Skipped++
		}
	}
	return result
}

// buildDoctorBreadcrumbs creates next-step suggestions based on failures.
func buildDoctorBreadcrumbs(checks []Check) []output.Breadcrumb {
	seen := make(map[string]bool)
	var breadcrumbs []output.Breadcrumb
	add := func(b output.Breadcrumb) {
		if !seen[b.Cmd] {
			seen[b.Cmd] = true
			breadcrumbs = append(breadcrumbs, b)
		}
	}

	for _, c := range checks {
		if c.Status != "fail" {
			continue
		}
		switch c.Name {
		case "Credentials", "Authentication":
			add(output.Breadcrumb{Action: "login", Cmd: "tasknest auth login", Description: "Sign in"})
		case "API Connectivity":
			add(output.Breadcrumb{Action: "status", Cmd: "tasknest auth status", Description: "Check authentication status"})
		case "Config", "Cache":
			add(output.Breadcrumb{Action: "config", Cmd: "tasknest config show", Description: "Review configuration"})
		}
	}
	return breadcrumbs
}

// pluralize returns singular or plural form based on count.
func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

// renderDoctorStyled outputs a human-friendly styled format for TTY.
func renderDoctorStyled(w io.Writer, theme output.Theme, result *DoctorResult) {
	r := output.NewRenderer(w, true, theme)

	nameStyle := lipgloss.NewStyle().Bold(true)
	icons := map[string]string{
		"pass": r.Success.Render("✓"),
		"fail": r.Error.Render("✗"),
		"warn": r.Warning.Render("!"),
		"skip": r.Muted.Render("○"),
	}
	styles := map[string]lipgloss.Style{
		"pass": r.Success,
		"fail": r.Error,
		"warn": r.Warning,
		"skip": r.Muted,
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, r.Summary.Render("TaskNest CLI Doctor"))
	fmt.Fprintln(w)

	for _, check := range result.Checks {
		fmt.Fprintf(w, "  %s %s %s\n",
			icons[check.Status],
			nameStyle.Render(check.Name),
			styles[check.Status].Render(check.Message),
		)
		if check.Hint != "" && (check.Status == "fail" || check.Status == "warn") {
			fmt.Fprintf(w, "      %s\n", r.Hint.Render("↳ "+check.Hint))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s\n", result.Summary())
	fmt.Fprintln(w)
}
