package main

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zephyrtronium/warden/admins"
	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/commands"
	"github.com/zephyrtronium/warden/dispatch"
	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/metrics"
	"github.com/zephyrtronium/warden/notify"
	"github.com/zephyrtronium/warden/permission"
	"github.com/zephyrtronium/warden/pipeline"
	"github.com/zephyrtronium/warden/scheduler"
	"github.com/zephyrtronium/warden/throttle"
)

// Warden is the bot process state.
type Warden struct {
	cfg      *Config
	metrics  *metrics.Metrics
	dbs      *dbs
	session  *discordgo.Session
	robo     *command.Robot
	limiter  *throttle.Limiter
	dispatch *dispatch.Dispatcher
	// works is the pool of idle dispatch workers.
	works chan chan func(context.Context)
}

// New wires a Warden from its configuration. file is the path the
// configuration was loaded from; command reloads read it again.
func New(ctx context.Context, file string, cfg *Config, m *metrics.Metrics) (*Warden, error) {
	token, err := loadToken(cfg.Discord.TokenFile)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	table, err := cfg.table()
	if err != nil {
		return nil, err
	}
	reg, err := command.NewRegistry(cfg.categories())
	if err != nil {
		return nil, fmt.Errorf("bad categories: %w", err)
	}

	d, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	store, err := d.store(ctx)
	if err != nil {
		d.Close()
		return nil, err
	}
	opts := cfg.cacheOptions()
	opts.Log = slog.Default()
	opts.Lookups = m.CacheLookups
	opts.StoreLatency = m.StoreLatency
	guilds := guildcfg.New(store, discordGuilds{session}, opts)

	sched := scheduler.New(slog.Default())
	sched.Runs = m.JobRuns
	note := &notify.Discord{Session: session}
	if cfg.Discord.Rate.Every > 0 && cfg.Discord.Rate.Num > 0 {
		note.Limit = rate.NewLimiter(rate.Every(fseconds(cfg.Discord.Rate.Every)), cfg.Discord.Rate.Num)
	}
	robo := &command.Robot{
		Log:       slog.Default(),
		Registry:  reg,
		Guilds:    guilds,
		Notify:    note,
		Scheduler: sched,
		Admins:    admins.New(cfg.Admins.Users...),
		Channels:  discordChannels{session},
		Started:   time.Now(),
	}
	lim := throttle.New()
	pipe := pipeline.New(pipeline.Config{
		Limiter:     lim,
		Permissions: &permission.Discord{State: session.State},
		Table:       table,
		Admins:      robo.Admins,
		Notify:      note,
		Log:         slog.Default(),
		Denials:     m.Denials,
	})
	reg.Validate = pipe.Validate
	for _, build := range commands.All() {
		name := build().Name
		if c := cfg.Commands[name]; c != nil && c.Disabled {
			slog.InfoContext(ctx, "command disabled", slog.String("command", name))
			continue
		}
		if err := reg.Load(loader(ctx, file, cfg, build)); err != nil {
			d.Close()
			return nil, fmt.Errorf("couldn't register command %s: %w", name, err)
		}
	}
	disp := dispatch.New(robo, pipe)
	disp.Dispatches = m.DispatchCount
	disp.Latency = m.HandlerLatency

	w := &Warden{
		cfg:      cfg,
		metrics:  m,
		dbs:      d,
		session:  session,
		robo:     robo,
		limiter:  lim,
		dispatch: disp,
		works:    make(chan chan func(context.Context), cmp.Or(cfg.Discord.Workers, runtime.GOMAXPROCS(0))),
	}
	if err := w.jobs(); err != nil {
		d.Close()
		return nil, err
	}
	return w, nil
}

// jobs registers recurring maintenance.
func (w *Warden) jobs() error {
	err := w.robo.Scheduler.Every(scheduler.Job{
		Name:         "throttle-sweep",
		Interval:     time.Minute,
		RunCondition: func() bool { return w.limiter.Len() > 0 },
		Run: func(ctx context.Context) error {
			n := w.limiter.Sweep(time.Now())
			slog.DebugContext(ctx, "swept throttle buckets", slog.Int("count", n))
			return nil
		},
	})
	if err != nil {
		return err
	}
	every := fseconds(w.cfg.Cache.Sweep)
	if every <= 0 {
		every = time.Minute
	}
	return w.robo.Scheduler.Every(scheduler.Job{
		Name:         "guild-cache-sweep",
		Interval:     every,
		RunCondition: func() bool { return w.robo.Guilds.Len() > 0 },
		Run: func(ctx context.Context) error {
			n := w.robo.Guilds.Sweep(time.Now())
			slog.DebugContext(ctx, "swept guild configs", slog.Int("count", n))
			return nil
		},
	})
}

// Run connects to Discord and serves until ctx is canceled.
func (w *Warden) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return w.robo.Scheduler.Run(ctx) })
	if w.cfg.HTTP.Listen != "" {
		group.Go(func() error { return w.api(ctx, w.cfg.HTTP.Listen, new(http.ServeMux), w.metrics.Collectors()) })
	}
	group.Go(func() error { return w.discord(ctx) })
	return group.Wait()
}

// Close releases the databases.
func (w *Warden) Close() error {
	return w.dbs.Close()
}
