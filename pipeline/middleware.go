package pipeline

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/permission"
	"github.com/zephyrtronium/warden/throttle"
)

func subject(call *command.Invocation, sc throttle.Scope) string {
	switch sc {
	case throttle.Channel:
		return call.Channel
	case throttle.Guild:
		if call.GuildID == "" {
			return call.Channel
		}
		return call.GuildID
	}
	return call.Sender
}

// throttle checks every scope of the spec. An invocation denied by any scope
// takes no slot from the others.
func (p *Pipeline) throttle(ctx context.Context, req *Request, spec command.Spec, next Next) error {
	now := p.cfg.Now()
	taken := make([]throttle.Key, 0, len(spec.Scopes))
	for _, sc := range spec.Scopes {
		k := throttle.Key{Scope: sc, Subject: subject(req.Call, sc), Command: req.Command.Name}
		r := p.cfg.Limiter.Check(now, k, spec.Limit, spec.Window)
		if r.Allowed {
			taken = append(taken, k)
			continue
		}
		for _, k := range taken {
			p.cfg.Limiter.Undo(k, now)
		}
		d := &Denied{Reason: Throttled, Spec: spec, RetryAfter: r.RetryAfter}
		secs := strconv.Itoa(int(math.Ceil(r.RetryAfter.Seconds())))
		return p.deny(ctx, req, d, "Slow down! You can use `:command` again in :seconds seconds.", map[string]string{
			"command": req.Call.Prefix + req.Call.Trigger,
			"seconds": secs,
		})
	}
	return next(ctx)
}

// require checks permission nodes for both the bot and the user. The bot's
// permissions are checked first, so a missing bot permission is reported even
// when the user lacks it too. Direct messages have no permissions to check.
func (p *Pipeline) require(ctx context.Context, req *Request, spec command.Spec, next Next) error {
	call := req.Call
	if call.IsDirect || call.GuildID == "" {
		return next(ctx)
	}
	self := p.cfg.Permissions.Self()
	botGuild, err := p.cfg.Permissions.Permissions(ctx, self, call.GuildID, "")
	if err != nil {
		return fmt.Errorf("couldn't resolve bot guild permissions: %w", err)
	}
	botChan, err := p.cfg.Permissions.Permissions(ctx, self, call.GuildID, call.Channel)
	if err != nil {
		return fmt.Errorf("couldn't resolve bot channel permissions: %w", err)
	}
	userGuild, err := p.cfg.Permissions.Permissions(ctx, call.Sender, call.GuildID, "")
	if err != nil {
		return fmt.Errorf("couldn't resolve user guild permissions: %w", err)
	}
	userChan, err := p.cfg.Permissions.Permissions(ctx, call.Sender, call.GuildID, call.Channel)
	if err != nil {
		return fmt.Errorf("couldn't resolve user channel permissions: %w", err)
	}
	for _, node := range spec.Nodes {
		n, ok := p.cfg.Table.Lookup(node)
		if !ok {
			// Validate rejects these at startup.
			return &command.ConfigurationError{Command: req.Command.Name, Spec: spec.Source, Msg: fmt.Sprintf("unknown permission node %q", node)}
		}
		ph := map[string]string{"permission": n.String()}
		if !botGuild.Has(n.Group, n.Perm) || !botChan.Has(n.Group, n.Perm) {
			d := &Denied{Reason: BotMissing, Spec: spec, Node: node}
			return p.deny(ctx, req, d, "I'm missing the `:permission` permission. Grant it to me and try again.", ph)
		}
		if !userGuild.Has(n.Group, n.Perm) && !userChan.Has(n.Group, n.Perm) {
			d := &Denied{Reason: UserMissing, Spec: spec, Node: node}
			return p.deny(ctx, req, d, "You need the `:permission` permission to use this command.", ph)
		}
	}
	return next(ctx)
}

func (p *Pipeline) isBotAdmin(ctx context.Context, req *Request, spec command.Spec, next Next) error {
	if p.cfg.Admins == nil || p.cfg.Admins.Check(req.Call.Sender) != nil {
		return p.unauthorized(ctx, req, spec)
	}
	return next(ctx)
}

func (p *Pipeline) hasRole(ctx context.Context, req *Request, spec command.Spec, next Next) error {
	call := req.Call
	if call.GuildID == "" {
		return p.unauthorized(ctx, req, spec)
	}
	roles, err := p.cfg.Permissions.Roles(ctx, call.Sender, call.GuildID)
	if err != nil {
		return fmt.Errorf("couldn't resolve roles: %w", err)
	}
	for _, want := range spec.Roles {
		ok := slices.ContainsFunc(roles, func(r permission.Role) bool {
			return r.ID == want || strings.EqualFold(r.Name, want)
		})
		if ok {
			return next(ctx)
		}
	}
	return p.unauthorized(ctx, req, spec)
}

func (p *Pipeline) unauthorized(ctx context.Context, req *Request, spec command.Spec) error {
	d := &Denied{Reason: Unauthorized, Spec: spec}
	return p.deny(ctx, req, d, "You're not authorized to use this command.", nil)
}
