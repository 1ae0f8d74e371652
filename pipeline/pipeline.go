// Package pipeline runs the middleware declared by commands before their
// handlers.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zephyrtronium/warden/admins"
	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/metrics"
	"github.com/zephyrtronium/warden/notify"
	"github.com/zephyrtronium/warden/permission"
	"github.com/zephyrtronium/warden/throttle"
)

// Request is the invocation passing through a pipeline.
type Request struct {
	Command *command.Descriptor
	Call    *command.Invocation
}

// Next continues a pipeline.
type Next func(ctx context.Context) error

// Middleware is a unit of a pipeline. It either calls next to continue or
// returns without calling it to stop the pipeline.
type Middleware func(ctx context.Context, req *Request, spec command.Spec, next Next) error

// Reason is the reason a pipeline was stopped.
type Reason string

const (
	Throttled    Reason = "throttled"
	BotMissing   Reason = "require-bot-missing"
	UserMissing  Reason = "require-user-missing"
	Unauthorized Reason = "unauthorized"
)

// Denied is the error returned when middleware stops an invocation. The user
// has already been notified.
type Denied struct {
	Reason Reason
	Spec   command.Spec
	// RetryAfter is the time until a throttled invocation may succeed.
	RetryAfter time.Duration
	// Node is the permission node which was missing.
	Node string
}

func (d *Denied) Error() string {
	switch d.Reason {
	case Throttled:
		return fmt.Sprintf("%s by %s, retry after %v", d.Reason, d.Spec, d.RetryAfter)
	case BotMissing, UserMissing:
		return fmt.Sprintf("%s: %s", d.Reason, d.Node)
	}
	return fmt.Sprintf("%s by %s", d.Reason, d.Spec)
}

// Config holds the collaborators of the built-in middleware.
type Config struct {
	Limiter     *throttle.Limiter
	Permissions permission.Resolver
	Table       permission.Table
	Admins      *admins.List
	Notify      notify.Notifier
	Log         *slog.Logger
	// Denials observes stopped invocations labeled by reason.
	Denials metrics.Observer
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline executes middleware in declaration order.
type Pipeline struct {
	cfg   Config
	kinds map[command.Kind]Middleware
}

// New creates a pipeline with the built-in middleware bound.
func New(cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Table == nil {
		cfg.Table = permission.DefaultTable()
	}
	p := &Pipeline{cfg: cfg, kinds: make(map[command.Kind]Middleware)}
	p.kinds[command.KindThrottle] = p.throttle
	p.kinds[command.KindRequire] = p.require
	p.kinds[command.KindIsBotAdmin] = p.isBotAdmin
	p.kinds[command.KindHasRole] = p.hasRole
	return p
}

// Bind sets the middleware for a kind. It must be called before the pipeline
// is used.
func (p *Pipeline) Bind(k command.Kind, m Middleware) {
	p.kinds[k] = m
}

// Validate checks that every middleware a command declares can run.
func (p *Pipeline) Validate(d *command.Descriptor) error {
	for _, s := range d.Middleware {
		if p.kinds[s.Kind] == nil {
			return &command.ConfigurationError{Command: d.Name, Spec: s.Source, Msg: "no middleware bound for " + s.Kind.String()}
		}
		for _, n := range s.Nodes {
			if _, ok := p.cfg.Table.Lookup(n); !ok {
				return &command.ConfigurationError{Command: d.Name, Spec: s.Source, Msg: fmt.Sprintf("unknown permission node %q", n)}
			}
		}
	}
	return nil
}

// Run runs specs in order, then final if every middleware continued.
func (p *Pipeline) Run(ctx context.Context, req *Request, specs []command.Spec, final Next) error {
	var step func(i int) Next
	step = func(i int) Next {
		return func(ctx context.Context) error {
			if i == len(specs) {
				return final(ctx)
			}
			s := specs[i]
			m := p.kinds[s.Kind]
			if m == nil {
				return &command.ConfigurationError{Command: req.Command.Name, Spec: s.Source, Msg: "no middleware bound for " + s.Kind.String()}
			}
			return m(ctx, req, s, step(i+1))
		}
	}
	return step(0)(ctx)
}

// deny notifies the user and returns d.
func (p *Pipeline) deny(ctx context.Context, req *Request, d *Denied, text string, ph map[string]string) error {
	metrics.Observe(p.cfg.Denials, 1, string(d.Reason))
	if p.cfg.Notify != nil {
		if _, err := p.cfg.Notify.Warn(ctx, req.Call.Channel, text, ph); err != nil {
			p.cfg.Log.WarnContext(ctx, "couldn't send denial notice",
				slog.String("command", req.Command.Name),
				slog.String("reason", string(d.Reason)),
				slog.Any("err", err),
			)
		}
	}
	return d
}
