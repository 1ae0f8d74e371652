// Package commands implements the built-in commands.
package commands

import (
	"context"
	"strings"

	"github.com/zephyrtronium/warden/command"
)

// All returns constructors for every built-in command. Each constructor
// returns a fresh descriptor, so callers may modify the result.
func All() []func() *command.Descriptor {
	return []func() *command.Descriptor{
		Purge,
		Aliases,
		Alias,
		Prefix,
		ModuleEnable,
		ModuleDisable,
		Reload,
		BotAdminAdd,
		BotAdminRemove,
		Help,
		Uptime,
	}
}

// usage tells the user how to invoke the command.
func usage(ctx context.Context, robo *command.Robot, call *command.Invocation, u string) error {
	_, err := robo.Notify.Warn(ctx, call.Channel, "Missing arguments. Usage: `:command :usage`", map[string]string{
		"command": call.Prefix + call.Trigger,
		"usage":   u,
	})
	return err
}

// findCategory finds the category whose name starts with the given prefix,
// ignoring case.
func findCategory(robo *command.Robot, name string) (command.Category, bool) {
	name = strings.ToLower(name)
	for _, c := range robo.Registry.Categories() {
		if strings.HasPrefix(strings.ToLower(c.Name), name) {
			return c, true
		}
	}
	return command.Category{}, false
}
