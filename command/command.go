// Package command defines commands, their middleware declarations, and the
// registry which resolves message text to them.
package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/zephyrtronium/warden/admins"
	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/notify"
	"github.com/zephyrtronium/warden/scheduler"
)

// Descriptor is a registered command. A Descriptor must not be modified after
// it is registered.
type Descriptor struct {
	// Name is the unique name of the command.
	Name string
	// Category is the name of the command's category.
	Category string
	// Triggers are the words which invoke the command. The first is
	// canonical. The registry stores them lowercased.
	Triggers []string
	// Middleware is the middleware to run before the handler, in order.
	Middleware []Spec
	Options    Options
	Handler    Func
}

// Options are a command's flags.
type Options struct {
	// AllowDM allows the command in direct messages.
	AllowDM bool
	// IgnoreHelpMenu omits the command from help listings.
	IgnoreHelpMenu bool
	Usage          string
	Description    string
}

// Invocation is a command invocation. An Invocation and its fields must not
// be modified or retained by any command.
type Invocation struct {
	// Sender is the ID of the invoking user.
	Sender string
	// Message is the ID of the message which triggered the invocation.
	Message string
	// GuildID is the guild where the invocation occurred, or empty in DMs.
	GuildID string
	// Channel is the channel where the invocation occurred.
	Channel  string
	IsDirect bool
	// Guild is the guild's configuration. It is nil in DMs.
	Guild *guildcfg.Config
	// Prefix and Trigger are the prefix and trigger the user typed.
	Prefix  string
	Trigger string
	// Args is the whitespace-separated arguments following the trigger.
	Args []string
	// Mentions is the IDs of users mentioned in the message.
	Mentions []string
}

// Func executes a command.
type Func func(ctx context.Context, robo *Robot, call *Invocation) error

// Channels performs channel operations for commands.
type Channels interface {
	// Purge deletes up to n of the most recent messages in a channel which
	// the platform still allows bulk deleting. If authors is not empty, only
	// messages by those users are deleted. Purge returns the number deleted.
	Purge(ctx context.Context, channel string, n int, authors []string) (int, error)
}

// Robot is the bot state as is visible to commands.
type Robot struct {
	Log       *slog.Logger
	Registry  *Registry
	Guilds    *guildcfg.Cache
	Notify    notify.Notifier
	Scheduler *scheduler.Scheduler
	Admins    *admins.List
	Channels  Channels
	// Started is the time the bot started.
	Started time.Time
}
