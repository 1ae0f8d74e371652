package command

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Resolve when text does not invoke any command.
var ErrNotFound = errors.New("no such command")

// ConfigurationError is an invalid command or middleware declaration.
type ConfigurationError struct {
	Command string
	Spec    string
	Msg     string
}

func (err *ConfigurationError) Error() string {
	switch {
	case err.Command != "" && err.Spec != "":
		return fmt.Sprintf("command %s: middleware %q: %s", err.Command, err.Spec, err.Msg)
	case err.Spec != "":
		return fmt.Sprintf("middleware %q: %s", err.Spec, err.Msg)
	case err.Command != "":
		return fmt.Sprintf("command %s: %s", err.Command, err.Msg)
	}
	return err.Msg
}

// DuplicateCommandError is an attempt to register a command name twice.
type DuplicateCommandError struct {
	Name string
}

func (err *DuplicateCommandError) Error() string {
	return fmt.Sprintf("duplicate command %q", err.Name)
}

// DuplicateTriggerError is an attempt to register a trigger already used by
// another command sharing the prefix namespace.
type DuplicateTriggerError struct {
	Trigger  string
	Command  string
	Existing string
}

func (err *DuplicateTriggerError) Error() string {
	return fmt.Sprintf("trigger %q of command %s already belongs to %s", err.Trigger, err.Command, err.Existing)
}
