package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/guildcfg"
)

// systemCategory is the category which cannot be disabled, so that modules
// can always be enabled again.
const systemCategory = "system"

// ModuleEnable enables a module in the guild.
func ModuleEnable() *command.Descriptor {
	return &command.Descriptor{
		Name:       "moduleenable",
		Category:   systemCategory,
		Triggers:   []string{"me", "moduleenable"},
		Middleware: command.MustSpecs("throttle.guild:2,5", "require:general.manage_server"),
		Options: command.Options{
			Usage:       "<module>",
			Description: "Enables a module in this server.",
		},
		Handler: moduleSwitch(true),
	}
}

// ModuleDisable disables a module in the guild.
func ModuleDisable() *command.Descriptor {
	return &command.Descriptor{
		Name:       "moduledisable",
		Category:   systemCategory,
		Triggers:   []string{"md", "moduledisable"},
		Middleware: command.MustSpecs("throttle.guild:2,5", "require:general.manage_server"),
		Options: command.Options{
			Usage:       "<module>",
			Description: "Disables a module in this server.",
		},
		Handler: moduleSwitch(false),
	}
}

func moduleSwitch(on bool) command.Func {
	state := "disabled"
	if on {
		state = "enabled"
	}
	return func(ctx context.Context, robo *command.Robot, call *command.Invocation) error {
		if len(call.Args) == 0 {
			return usage(ctx, robo, call, "<module>")
		}
		c, ok := findCategory(robo, call.Args[0])
		if !ok {
			return invalidModule(ctx, robo, call)
		}
		ph := map[string]string{"module": c.Name, "state": state}
		if c.Name == systemCategory && !on {
			_, err := robo.Notify.Warn(ctx, call.Channel, "The `:module` module can't be disabled.", ph)
			return err
		}
		if err := robo.Guilds.Update(ctx, call.GuildID, guildcfg.Fields{Modules: map[string]bool{c.Name: on}}); err != nil {
			return err
		}
		_, err := robo.Notify.Success(ctx, call.Channel, "The `:module` module is now `:state`.", ph)
		return err
	}
}

// Reload reloads a command's declaration.
func Reload() *command.Descriptor {
	return &command.Descriptor{
		Name:       "reload",
		Category:   systemCategory,
		Triggers:   []string{"reload"},
		Middleware: command.MustSpecs("isBotAdmin"),
		Options: command.Options{
			AllowDM:        true,
			IgnoreHelpMenu: true,
			Usage:          "<command>",
			Description:    "Reloads a command's triggers and middleware from the configuration.",
		},
		Handler: reload,
	}
}

func reload(ctx context.Context, robo *command.Robot, call *command.Invocation) error {
	if len(call.Args) == 0 {
		return usage(ctx, robo, call, "<command>")
	}
	name := strings.ToLower(call.Args[0])
	if d, ok := robo.Registry.Find(name); ok {
		name = d.Name
	}
	ph := map[string]string{"command": name}
	err := robo.Registry.Reload(name)
	switch {
	case errors.Is(err, command.ErrNotFound):
		_, err := robo.Notify.Warn(ctx, call.Channel, "There is no command `:command`.", ph)
		return err
	case err != nil:
		robo.Log.WarnContext(ctx, "reload failed", slog.String("target", name), slog.Any("err", err))
		ph["err"] = err.Error()
		_, err := robo.Notify.Warn(ctx, call.Channel, "Couldn't reload `:command`: :err", ph)
		return err
	}
	robo.Log.InfoContext(ctx, "reloaded command", slog.String("target", name))
	_, err = robo.Notify.Success(ctx, call.Channel, "`:command` has been reloaded.", ph)
	return err
}

// BotAdminAdd adds a user to the bot admin list.
func BotAdminAdd() *command.Descriptor {
	return &command.Descriptor{
		Name:       "botadminadd",
		Category:   systemCategory,
		Triggers:   []string{"baa", "botadminadd"},
		Middleware: command.MustSpecs("isBotAdmin"),
		Options: command.Options{
			AllowDM:        true,
			IgnoreHelpMenu: true,
			Usage:          "<user id>",
			Description:    "Grants a user access to bot administration commands until restart.",
		},
		Handler: botAdmin(true),
	}
}

// BotAdminRemove removes a user from the bot admin list.
func BotAdminRemove() *command.Descriptor {
	return &command.Descriptor{
		Name:       "botadminremove",
		Category:   systemCategory,
		Triggers:   []string{"bar", "botadminremove"},
		Middleware: command.MustSpecs("isBotAdmin"),
		Options: command.Options{
			AllowDM:        true,
			IgnoreHelpMenu: true,
			Usage:          "<user id>",
			Description:    "Revokes a user's access to bot administration commands until restart.",
		},
		Handler: botAdmin(false),
	}
}

func botAdmin(add bool) command.Func {
	return func(ctx context.Context, robo *command.Robot, call *command.Invocation) error {
		if len(call.Args) == 0 {
			return usage(ctx, robo, call, "<user id>")
		}
		id := call.Args[0]
		ph := map[string]string{"user": id}
		if add {
			if !robo.Admins.Add(id) {
				_, err := robo.Notify.Warn(ctx, call.Channel, "`:user` is already a bot admin.", ph)
				return err
			}
			robo.Log.InfoContext(ctx, "added bot admin", slog.String("user", id), slog.String("by", call.Sender))
			_, err := robo.Notify.Info(ctx, call.Channel, "`:user` has been added to the bot admins.", ph)
			return err
		}
		if id == call.Sender {
			_, err := robo.Notify.Warn(ctx, call.Channel, "You can't remove yourself from the bot admins.", ph)
			return err
		}
		if !robo.Admins.Remove(id) {
			_, err := robo.Notify.Warn(ctx, call.Channel, "`:user` is not a bot admin.", ph)
			return err
		}
		robo.Log.InfoContext(ctx, "removed bot admin", slog.String("user", id), slog.String("by", call.Sender))
		_, err := robo.Notify.Info(ctx, call.Channel, "`:user` has been removed from the bot admins.", ph)
		return err
	}
}
