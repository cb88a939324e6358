package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknest/tasknest-cli/internal/appctx"
	"github.com/tasknest/tasknest-cli/internal/output"
)

func TestTransformCobraError(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"flag needs an argument: --status", "--status requires a value"},
		{"unknown flag: --project", "Unknown option: --project"},
		{"unknown shorthand flag: 'x' in -x", "Unknown option: -x"},
		{"requires at least 1 arg(s), only received 0", "Task ID(s) required"},
		{"accepts 1 arg(s), received 0", "ID required"},
		{`unknown command "frobnicate" for "tasknest"`, `unknown command "frobnicate" for "tasknest"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := transformCobraError(errors.New(tt.in))
			e := output.AsError(err)
			assert.Equal(t, output.CodeUsage, e.Code)
			assert.Equal(t, tt.want, e.Message)
		})
	}

	other := errors.New("boom")
	assert.Same(t, other, transformCobraError(other))
}

func TestFallbackFormat(t *testing.T) {
	tests := []struct {
		args []string
		want output.Format
	}{
		{nil, output.FormatAuto},
		{[]string{"--json"}, output.FormatJSON},
		{[]string{"--yaml"}, output.FormatYAML},
		{[]string{"--quiet", "--json"}, output.FormatQuiet},
		{[]string{"--ids-only"}, output.FormatIDs},
		{[]string{"--count"}, output.FormatCount},
		{[]string{"--styled"}, output.FormatStyled},
	}
	for _, tt := range tests {
		root := NewRootCmd()
		require.NoError(t, root.PersistentFlags().Parse(tt.args))
		assert.Equal(t, tt.want, fallbackFormat(root.PersistentFlags()), "args %v", tt.args)
	}
}

func TestPersistentPreRunBuildsApp(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TASKNEST_TOKEN", "from-env")

	root := NewRootCmd()
	var app *appctx.App
	root.AddCommand(&cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			app = appctx.FromContext(cmd.Context())
			return nil
		},
	})
	root.SetArgs([]string{"probe", "--base-url", "localhost:9999", "--json", "-vv"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	require.NoError(t, root.Execute())
	require.NotNil(t, app)
	assert.Equal(t, "http://localhost:9999", app.Config.BaseURL)
	assert.Equal(t, "flag", app.Config.Sources["base_url"])
	assert.True(t, app.Flags.JSON)
	assert.Equal(t, 2, app.Flags.Verbose)
	assert.True(t, app.StaticToken())
}

func TestAddCommandsRegistersEverything(t *testing.T) {
	root := NewRootCmd()
	AddCommands(root)

	for _, name := range []string{"auth", "todos", "todo", "done", "reopen", "me", "config", "doctor", "commands", "completion"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
