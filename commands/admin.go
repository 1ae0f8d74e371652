package commands

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/guildcfg"
)

// purgeNoticeLife is how long the purge confirmation stays up.
var purgeNoticeLife = 3500 * time.Millisecond

// Purge deletes recent messages in a channel, optionally only those from
// mentioned users.
func Purge() *command.Descriptor {
	return &command.Descriptor{
		Name:       "purge",
		Category:   "administration",
		Triggers:   []string{"purge", "clear"},
		Middleware: command.MustSpecs("throttle.channel:1,5", "require:text.manage_messages"),
		Options: command.Options{
			Usage:       "<amount> [@user...]",
			Description: "Deletes recent messages in the channel, optionally only those sent by mentioned users.",
		},
		Handler: purge,
	}
}

func purge(ctx context.Context, robo *command.Robot, call *command.Invocation) error {
	if len(call.Args) == 0 {
		return usage(ctx, robo, call, "<amount> [@user...]")
	}
	n, err := strconv.Atoi(call.Args[0])
	if err != nil {
		_, err := robo.Notify.Warn(ctx, call.Channel, "`:amount` is not a number.", map[string]string{"amount": call.Args[0]})
		return err
	}
	// Include the invoking message itself.
	n = min(max(n, 1)+1, 1000)
	k, err := robo.Channels.Purge(ctx, call.Channel, n, call.Mentions)
	if err != nil {
		return fmt.Errorf("couldn't purge: %w", err)
	}
	text := ":amount messages have been deleted."
	if len(call.Mentions) != 0 {
		text = ":amount messages from the mentioned users have been deleted."
	}
	msg, err := robo.Notify.Success(ctx, call.Channel, text, map[string]string{"amount": strconv.Itoa(k)})
	if err != nil {
		return err
	}
	robo.Scheduler.Delay(func(ctx context.Context) {
		if err := robo.Notify.Delete(ctx, msg); err != nil {
			robo.Log.WarnContext(ctx, "couldn't delete purge notice", slog.Any("err", err))
		}
	}, purgeNoticeLife)
	return nil
}

const aliasesPerPage = 10

// Aliases lists the guild's aliases.
func Aliases() *command.Descriptor {
	return &command.Descriptor{
		Name:       "aliases",
		Category:   "administration",
		Triggers:   []string{"aliases", "aliaslist"},
		Middleware: command.MustSpecs("throttle.user:2,5", "require:general.manage_server"),
		Options: command.Options{
			Usage:       "[page]",
			Description: "Lists the server's command aliases.",
		},
		Handler: aliases,
	}
}

func aliases(ctx context.Context, robo *command.Robot, call *command.Invocation) error {
	keys := slices.Sorted(maps.Keys(call.Guild.Aliases))
	if len(keys) == 0 {
		_, err := robo.Notify.Info(ctx, call.Channel, "This server has no aliases.", nil)
		return err
	}
	pages := (len(keys) + aliasesPerPage - 1) / aliasesPerPage
	page := 1
	if len(call.Args) > 0 {
		if p, err := strconv.Atoi(call.Args[0]); err == nil {
			page = p
		}
	}
	page = min(max(page, 1), pages)
	keys = keys[(page-1)*aliasesPerPage : min(page*aliasesPerPage, len(keys))]
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "`%s` => `%s`\n", k, call.Guild.Aliases[k])
	}
	b.WriteString("\nPage **:page** of **:pages**. `:command [page]`")
	_, err := robo.Notify.Info(ctx, call.Channel, b.String(), map[string]string{
		"page":    strconv.Itoa(page),
		"pages":   strconv.Itoa(pages),
		"command": call.Prefix + call.Trigger,
	})
	return err
}

// Alias creates or removes an alias.
func Alias() *command.Descriptor {
	return &command.Descriptor{
		Name:       "alias",
		Category:   "administration",
		Triggers:   []string{"alias", "cmdmap"},
		Middleware: command.MustSpecs("throttle.user:2,5", "require:general.manage_server"),
		Options: command.Options{
			Usage:       "<alias> [command [args...]]",
			Description: "Maps an alias to a command invocation, or removes the alias if no command is given.",
		},
		Handler: alias,
	}
}

func alias(ctx context.Context, robo *command.Robot, call *command.Invocation) error {
	if len(call.Args) == 0 {
		return usage(ctx, robo, call, "<alias> [command [args...]]")
	}
	name := strings.ToLower(call.Args[0])
	if len(call.Args) == 1 {
		if _, ok := call.Guild.Alias(name); !ok {
			_, err := robo.Notify.Warn(ctx, call.Channel, "There is no alias named `:alias`.", map[string]string{"alias": name})
			return err
		}
		if err := robo.Guilds.Update(ctx, call.GuildID, guildcfg.Fields{Aliases: map[string]string{name: ""}}); err != nil {
			return err
		}
		_, err := robo.Notify.Success(ctx, call.Channel, "The `:alias` alias has been removed.", map[string]string{"alias": name})
		return err
	}
	if _, ok := robo.Registry.Find(name); ok {
		_, err := robo.Notify.Warn(ctx, call.Channel, "`:alias` is already a command trigger.", map[string]string{"alias": name})
		return err
	}
	target := call.Args[1:]
	if _, ok := robo.Registry.Find(target[0]); !ok {
		_, err := robo.Notify.Warn(ctx, call.Channel, "There is no command `:target`.", map[string]string{"target": target[0]})
		return err
	}
	inv := strings.Join(target, " ")
	if err := robo.Guilds.Update(ctx, call.GuildID, guildcfg.Fields{Aliases: map[string]string{name: inv}}); err != nil {
		return err
	}
	_, err := robo.Notify.Success(ctx, call.Channel, "`:alias` now runs `:target`.", map[string]string{"alias": name, "target": inv})
	return err
}

// Prefix shows or changes the guild's prefix for a category.
func Prefix() *command.Descriptor {
	return &command.Descriptor{
		Name:       "prefix",
		Category:   "administration",
		Triggers:   []string{"prefix"},
		Middleware: command.MustSpecs("throttle.user:2,5", "require:general.manage_server"),
		Options: command.Options{
			Usage:       "<module> [prefix|reset]",
			Description: "Shows or changes the prefix for a module's commands in this server.",
		},
		Handler: prefix,
	}
}

func prefix(ctx context.Context, robo *command.Robot, call *command.Invocation) error {
	if len(call.Args) == 0 {
		return usage(ctx, robo, call, "<module> [prefix|reset]")
	}
	c, ok := findCategory(robo, call.Args[0])
	if !ok {
		return invalidModule(ctx, robo, call)
	}
	ph := map[string]string{"module": c.Name}
	if len(call.Args) == 1 {
		ph["prefix"] = call.Guild.Prefix(c.Name, c.Prefix)
		_, err := robo.Notify.Info(ctx, call.Channel, "The `:module` module uses the prefix `:prefix`.", ph)
		return err
	}
	p := call.Args[1]
	if strings.EqualFold(p, "reset") {
		p = ""
	}
	if err := robo.Guilds.Update(ctx, call.GuildID, guildcfg.Fields{Prefixes: map[string]string{c.Name: p}}); err != nil {
		return err
	}
	ph["prefix"] = cmp.Or(p, c.Prefix)
	_, err := robo.Notify.Success(ctx, call.Channel, "The `:module` module now uses the prefix `:prefix`.", ph)
	return err
}

func invalidModule(ctx context.Context, robo *command.Robot, call *command.Invocation) error {
	_, err := robo.Notify.Warn(ctx, call.Channel, "`:module` is not a valid module.", map[string]string{"module": call.Args[0]})
	return err
}
