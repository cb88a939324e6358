package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest-cli/internal/appctx"
	"github.com/tasknest/tasknest-cli/internal/config"
	"github.com/tasknest/tasknest-cli/internal/output"
)

// NewConfigCmd creates the config command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage tasknest configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > .env > global > system > defaults

Config locations:
  - System: /etc/tasknest/config.json
  - Global: ~/.config/tasknest/config.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return fmt.Errorf("app not initialized")
	}

	values := app.Config.Values()
	configData := make(map[string]any, len(values))
	for _, key := range config.Keys() {
		value, ok := values[key]
		if !ok {
			continue
		}
		source := app.Config.Sources[key]
		if source == "" {
			source = string(config.SourceDefault)
		}
		configData[key] = map[string]string{
			"value":  value,
			"source": source,
		}
	}

	return app.OK(configData,
		output.WithSummary("Effective configuration"),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "set",
				Cmd:         "tasknest config set <key> <value>",
				Description: "Set config value",
			},
		),
	)
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Persist a configuration value to the global config file.

Keys: base_url, theme, format, timeout, keyring, cache_dir, cache_ttl, stats, verbose`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			key, value := args[0], args[1]
			path := config.GlobalConfigPath()

			stored, err := config.SetValue(path, key, value)
			if err != nil {
				return output.ErrUsage(err.Error())
			}

			return app.OK(map[string]any{
				"key":   key,
				"value": stored,
				"path":  path,
			},
				output.WithSummary(fmt.Sprintf("Set %s = %v", key, stored)),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "show",
						Cmd:         "tasknest config show",
						Description: "View config",
					},
				),
			)
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Unset a configuration value",
		Long:  "Remove a configuration value from the global config file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			key := args[0]
			if err := config.UnsetValue(config.GlobalConfigPath(), key); err != nil {
				return output.ErrUsage(err.Error())
			}

			return app.OK(map[string]any{
				"key":    key,
				"status": "unset",
			},
				output.WithSummary(fmt.Sprintf("Unset %s", key)),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "show",
						Cmd:         "tasknest config show",
						Description: "View config",
					},
				),
			)
		},
	}
}
