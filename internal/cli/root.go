package cli

import (
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tasknest/tasknest-cli/internal/appctx"
	"github.com/tasknest/tasknest-cli/internal/commands"
	"github.com/tasknest/tasknest-cli/internal/config"
	"github.com/tasknest/tasknest-cli/internal/hostutil"
	"github.com/tasknest/tasknest-cli/internal/output"
	"github.com/tasknest/tasknest-cli/internal/version"
)

var shorthandFlagRe = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "tasknest",
		Short:         "Command-line interface for TaskNest",
		Long:          "tasknest signs you in to a TaskNest server and manages your tasks from the terminal.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				BaseURL:  hostutil.Normalize(flags.BaseURL),
				CacheDir: flags.CacheDir,
				Theme:    flags.Theme,
			})
			if err != nil {
				return output.ErrUsage(err.Error())
			}

			app := appctx.NewApp(cfg, flags, appctx.Options{})
			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVar(&flags.YAML, "yaml", false, "Output as YAML")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")
	cmd.PersistentFlags().BoolVar(&flags.IDsOnly, "ids-only", false, "Output only IDs")
	cmd.PersistentFlags().BoolVar(&flags.Count, "count", false, "Output only count")
	cmd.PersistentFlags().StringVar(&flags.JQ, "jq", "", "Filter the data with a jq expression")

	// Context flags
	cmd.PersistentFlags().StringVar(&flags.BaseURL, "base-url", "", "TaskNest API base URL (e.g., localhost:8080)")
	cmd.PersistentFlags().StringVar(&flags.Theme, "theme", "", "Color theme (light, dark)")
	cmd.PersistentFlags().StringVar(&flags.CacheDir, "cache-dir", "", "Cache directory")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for ops, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	_ = cmd.RegisterFlagCompletionFunc("theme", cobra.FixedCompletions([]string{"light", "dark"}, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

// AddCommands registers every subcommand on root.
func AddCommands(root *cobra.Command) {
	root.AddCommand(commands.NewAuthCmd())
	root.AddCommand(commands.NewTodosCmd())
	root.AddCommand(commands.NewTodoCmd())
	root.AddCommand(commands.NewDoneCmd())
	root.AddCommand(commands.NewReopenCmd())
	root.AddCommand(commands.NewMeCmd())
	root.AddCommand(commands.NewConfigCmd())
	root.AddCommand(commands.NewDoctorCmd())
	root.AddCommand(commands.NewCommandsCmd())
	root.AddCommand(commands.NewCompletionCmd())
}

// Execute runs the root command.
func Execute() {
	cmd := NewRootCmd()
	AddCommands(cmd)

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteC()
	if err == nil {
		return
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	// app.Err prints stats when enabled
	if executedCmd != nil {
		if app := appctx.FromContext(executedCmd.Context()); app != nil {
			_ = app.Err(err)
			os.Exit(apiErr.ExitCode())
		}
	}

	// Fallback: the app was never built, e.g. a bad flag or config file
	writer := output.New(output.Options{
		Format: fallbackFormat(cmd.PersistentFlags()),
		Writer: os.Stdout,
	})
	_ = writer.Err(err)

	os.Exit(apiErr.ExitCode())
}

// fallbackFormat reads the output flags directly when no app exists.
func fallbackFormat(pf *pflag.FlagSet) output.Format {
	quiet, _ := pf.GetBool("quiet")
	idsOnly, _ := pf.GetBool("ids-only")
	count, _ := pf.GetBool("count")
	styled, _ := pf.GetBool("styled")
	yamlFlag, _ := pf.GetBool("yaml")
	jsonFlag, _ := pf.GetBool("json")

	switch {
	case quiet:
		return output.FormatQuiet
	case idsOnly:
		return output.FormatIDs
	case count:
		return output.FormatCount
	case styled:
		return output.FormatStyled
	case yamlFlag:
		return output.FormatYAML
	case jsonFlag:
		return output.FormatJSON
	default:
		return output.FormatAuto
	}
}

// transformCobraError turns cobra's argument and flag errors into usage errors
// with shorter messages.
func transformCobraError(err error) error {
	msg := err.Error()

	// "flag needs an argument: --FLAG" → "--FLAG requires a value"
	if strings.HasPrefix(msg, "flag needs an argument: ") {
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	}

	// "unknown flag: --FLAG" → "Unknown option: --FLAG"
	if strings.HasPrefix(msg, "unknown flag: ") {
		flag := strings.TrimPrefix(msg, "unknown flag: ")
		return output.ErrUsage("Unknown option: " + flag)
	}

	// "unknown shorthand flag: 'X' in -X" → "Unknown option: -X"
	if strings.HasPrefix(msg, "unknown shorthand flag: ") {
		if matches := shorthandFlagRe.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("Unknown option: " + matches[1])
		}
	}

	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run: tasknest commands")
	}

	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	// "requires at least N arg(s)" → "Task ID(s) required"
	if strings.Contains(msg, "requires at least") && strings.Contains(msg, "arg(s)") {
		return output.ErrUsage("Task ID(s) required")
	}

	// "accepts N arg(s), received 0" → "ID required"
	if strings.Contains(msg, "arg(s), received 0") {
		return output.ErrUsage("ID required")
	}

	if strings.Contains(msg, "arg(s), received") {
		return output.ErrUsage(msg)
	}

	return err
}
