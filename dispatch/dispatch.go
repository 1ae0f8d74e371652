// Package dispatch routes inbound messages to commands.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/metrics"
	"github.com/zephyrtronium/warden/pipeline"
)

// Event is an inbound message.
type Event struct {
	// ID is the message ID.
	ID string
	// Sender is the ID of the message author.
	Sender   string
	Text     string
	GuildID  string
	Channel  string
	IsDirect bool
	// Mentions is the IDs of users mentioned in the message.
	Mentions []string
}

var (
	// ErrDMNotAllowed is returned for a command which cannot run in direct
	// messages invoked in one.
	ErrDMNotAllowed = errors.New("command not allowed in direct messages")
	// ErrModuleDisabled is returned for a command whose category is disabled
	// in the guild.
	ErrModuleDisabled = errors.New("module disabled")
)

// HandlerError is a failure of a command's handler.
type HandlerError struct {
	Command string
	// Err is the error the handler returned. It is nil if the handler
	// panicked.
	Err error
	// Panic is the recovered value if the handler panicked.
	Panic any
}

func (err *HandlerError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("command %s panicked: %v", err.Command, err.Panic)
	}
	return fmt.Sprintf("command %s failed: %v", err.Command, err.Err)
}

func (err *HandlerError) Unwrap() error {
	return err.Err
}

// Dispatcher resolves events to commands and runs them.
type Dispatcher struct {
	robo *command.Robot
	pipe *pipeline.Pipeline

	// Dispatches observes dispatched events labeled by outcome.
	Dispatches metrics.Observer
	// Latency observes handler durations in seconds labeled by command.
	Latency metrics.Observer
}

// New creates a dispatcher.
func New(robo *command.Robot, pipe *pipeline.Pipeline) *Dispatcher {
	return &Dispatcher{robo: robo, pipe: pipe}
}

// Dispatch handles one event. It returns command.ErrNotFound if the event
// does not invoke a command, ErrDMNotAllowed or ErrModuleDisabled if the
// command cannot run where it was invoked, a *pipeline.Denied if middleware
// stopped it, or a *HandlerError if the command failed. Users are notified of
// every outcome except ErrNotFound. Dispatch never panics due to a handler.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	log := d.robo.Log.With(slog.String("trace", ev.ID))
	var guild *guildcfg.Config
	var gerr error
	if ev.GuildID != "" && !ev.IsDirect && d.robo.Guilds != nil {
		guild, gerr = d.robo.Guilds.Get(ctx, ev.GuildID, false)
	}
	m, err := d.robo.Registry.Resolve(ev.Text, guild)
	if err != nil {
		d.outcome("none")
		return err
	}
	desc := m.Descriptor
	log = log.With(
		slog.String("command", desc.Name),
		slog.String("guild", ev.GuildID),
		slog.String("channel", ev.Channel),
		slog.String("sender", ev.Sender),
	)
	if gerr != nil {
		d.outcome("error")
		log.ErrorContext(ctx, "couldn't load guild config", slog.Any("err", gerr))
		d.warn(ctx, log, ev.Channel, "I couldn't load this server's settings. Please try again in a moment.", nil)
		return gerr
	}
	if ev.IsDirect && !desc.Options.AllowDM {
		d.outcome("dm")
		d.warn(ctx, log, ev.Channel, "`:command` can't be used in direct messages.", map[string]string{"command": m.Prefix + m.Trigger})
		return ErrDMNotAllowed
	}
	if !guild.ModuleEnabled(desc.Category) {
		d.outcome("disabled")
		d.warn(ctx, log, ev.Channel, "The `:module` module is disabled in this server.", map[string]string{"module": desc.Category})
		return ErrModuleDisabled
	}
	call := &command.Invocation{
		Sender:   ev.Sender,
		Message:  ev.ID,
		GuildID:  ev.GuildID,
		Channel:  ev.Channel,
		IsDirect: ev.IsDirect,
		Guild:    guild,
		Prefix:   m.Prefix,
		Trigger:  m.Trigger,
		Args:     m.Args,
		Mentions: ev.Mentions,
	}
	req := &pipeline.Request{Command: desc, Call: call}
	err = d.pipe.Run(ctx, req, desc.Middleware, func(ctx context.Context) error {
		return d.invoke(ctx, log, desc, call)
	})
	var denied *pipeline.Denied
	switch {
	case err == nil:
		d.outcome("ok")
		log.InfoContext(ctx, "command", slog.Any("args", m.Args), slog.String("alias", m.Alias))
	case errors.As(err, &denied):
		d.outcome("denied")
		log.InfoContext(ctx, "command denied", slog.String("reason", string(denied.Reason)), slog.String("middleware", denied.Spec.Source))
	default:
		d.outcome("error")
		var herr *HandlerError
		if !errors.As(err, &herr) {
			// Handler failures are logged where they happen.
			log.ErrorContext(ctx, "middleware failed", slog.Any("err", err))
		}
		d.warn(ctx, log, ev.Channel, "Something went wrong while running `:command`. Please try again later.", map[string]string{"command": m.Prefix + m.Trigger})
	}
	return err
}

// invoke runs a handler, converting errors and panics to *HandlerError.
func (d *Dispatcher) invoke(ctx context.Context, log *slog.Logger, desc *command.Descriptor, call *command.Invocation) (err error) {
	start := time.Now()
	defer func() {
		metrics.Observe(d.Latency, time.Since(start).Seconds(), desc.Name)
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "command panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())), slog.Any("args", call.Args))
			err = &HandlerError{Command: desc.Name, Panic: r}
		}
	}()
	if err := desc.Handler(ctx, d.robo, call); err != nil {
		log.ErrorContext(ctx, "command failed", slog.Any("err", err), slog.Any("args", call.Args))
		return &HandlerError{Command: desc.Name, Err: err}
	}
	return nil
}

func (d *Dispatcher) outcome(o string) {
	metrics.Observe(d.Dispatches, 1, o)
}

func (d *Dispatcher) warn(ctx context.Context, log *slog.Logger, channel, text string, ph map[string]string) {
	if _, err := d.robo.Notify.Warn(ctx, channel, text, ph); err != nil {
		log.WarnContext(ctx, "couldn't send notice", slog.Any("err", err))
	}
}
