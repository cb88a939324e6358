// Package tui holds the interactive prompts used when a command runs on a
// terminal and required input was not given as flags.
package tui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/tasknest/tasknest-cli/internal/output"
)

// Credentials prompts for whichever of username and password are still empty.
func Credentials(username, password *string) error {
	var fields []huh.Field
	if *username == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Value(username).
			Validate(required))
	}
	if *password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(password).
			Validate(required))
	}
	if len(fields) == 0 {
		return nil
	}

	err := huh.NewForm(huh.NewGroup(fields...).Title("Sign in to TaskNest")).Run()
	return canceled(err)
}

// InputRequired shows a required text input prompt.
func InputRequired(title, placeholder string) (string, error) {
	var result string
	err := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Value(&result).
		Validate(required).
		Run()
	return strings.TrimSpace(result), canceled(err)
}

// ConfirmDangerous shows a confirmation prompt for destructive actions.
func ConfirmDangerous(message string) (bool, error) {
	var result bool
	err := huh.NewConfirm().
		Title(message).
		Description("This action cannot be undone.").
		Affirmative("Yes, I'm sure").
		Negative("Cancel").
		Value(&result).
		Run()
	if err != nil {
		return false, canceled(err)
	}
	return result, nil
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("this field is required")
	}
	return nil
}

// canceled turns ctrl-c at a prompt into a usage error so the command exits
// quietly instead of reporting an internal failure.
func canceled(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return output.ErrUsage("Canceled")
	}
	return err
}
