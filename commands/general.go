package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zephyrtronium/warden/command"
)

// Help lists commands or describes one.
func Help() *command.Descriptor {
	return &command.Descriptor{
		Name:       "help",
		Category:   "general",
		Triggers:   []string{"help", "commands"},
		Middleware: command.MustSpecs("throttle.user:2,5"),
		Options: command.Options{
			AllowDM:     true,
			Usage:       "[command]",
			Description: "Lists commands, or shows how to use one.",
		},
		Handler: help,
	}
}

func help(ctx context.Context, robo *command.Robot, call *command.Invocation) error {
	if len(call.Args) > 0 {
		d, ok := robo.Registry.Find(call.Args[0])
		if !ok {
			// Also accept the command as it would be typed, with a prefix.
			if m, err := robo.Registry.Resolve(call.Args[0], call.Guild); err == nil {
				d, ok = m.Descriptor, true
			}
		}
		if !ok {
			_, err := robo.Notify.Warn(ctx, call.Channel, "There is no command `:command`.", map[string]string{"command": call.Args[0]})
			return err
		}
		p := prefixFor(robo, call, d.Category)
		text := fmt.Sprintf("`%s%s %s`\n%s", p, d.Triggers[0], d.Options.Usage, d.Options.Description)
		if len(d.Triggers) > 1 {
			text += "\nAlso: `" + strings.Join(d.Triggers[1:], "`, `") + "`"
		}
		_, err := robo.Notify.Info(ctx, call.Channel, text, nil)
		return err
	}
	var b strings.Builder
	cat := ""
	for _, d := range robo.Registry.Commands() {
		if d.Options.IgnoreHelpMenu || !call.Guild.ModuleEnabled(d.Category) {
			continue
		}
		if d.Category != cat {
			cat = d.Category
			fmt.Fprintf(&b, "\n**%s**\n", cat)
		}
		fmt.Fprintf(&b, "`%s%s` ", prefixFor(robo, call, d.Category), d.Triggers[0])
	}
	_, err := robo.Notify.Info(ctx, call.Channel, strings.TrimSpace(b.String()), nil)
	return err
}

func prefixFor(robo *command.Robot, call *command.Invocation, category string) string {
	for _, c := range robo.Registry.Categories() {
		if c.Name == category {
			return call.Guild.Prefix(c.Name, c.Prefix)
		}
	}
	return ""
}

// Uptime reports how long the bot has been running.
func Uptime() *command.Descriptor {
	return &command.Descriptor{
		Name:       "uptime",
		Category:   "general",
		Triggers:   []string{"uptime"},
		Middleware: command.MustSpecs("throttle.user:1,5"),
		Options: command.Options{
			AllowDM:     true,
			Description: "Shows how long the bot has been running.",
		},
		Handler: uptime,
	}
}

func uptime(ctx context.Context, robo *command.Robot, call *command.Invocation) error {
	d := time.Since(robo.Started).Truncate(time.Second)
	_, err := robo.Notify.Info(ctx, call.Channel, "I have been online for :uptime.", map[string]string{"uptime": d.String()})
	return err
}
