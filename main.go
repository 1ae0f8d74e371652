package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/guildcfg/sqlstore"
	"github.com/zephyrtronium/warden/metrics"
)

var app = cli.Command{
	Name:  "warden",
	Usage: "Command dispatcher for a Discord bot",

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
	},
	Commands: []*cli.Command{
		{
			Name:   "run",
			Usage:  "Connect to Discord and serve commands",
			Action: cliRun,
		},
		{
			Name:  "init",
			Usage: "Create the guild configuration schema in an SQLite database",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "db",
					Usage: "SQLite database to initialize instead of the configured one",
				},
			},
			Action: cliInit,
		},
	},
	Action: cliRun,

	Authors: []any{
		"Branden J Brown  @zephyrtronium",
	},
	Copyright: "Copyright 2024 Branden J Brown",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
	}
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	file := cmd.String("config")
	cfg, _, err := loadFile(ctx, file)
	if err != nil {
		return fmt.Errorf("couldn't load config: %w", err)
	}
	w, err := New(ctx, file, cfg, newMetrics())
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Run(ctx)
}

func cliInit(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	dsn := cmd.String("db")
	if dsn == "" {
		cfg, _, err := loadFile(ctx, cmd.String("config"))
		if err != nil {
			return fmt.Errorf("couldn't load config: %w", err)
		}
		dsn = cfg.DB.SQLite
	}
	if dsn == "" {
		return errors.New("no SQLite database configured")
	}
	db, err := sqlitex.NewPool(dsn, sqlitex.PoolOptions{})
	if err != nil {
		return fmt.Errorf("couldn't open sqlite db: %w", err)
	}
	defer db.Close()
	if err := sqlstore.Init(ctx, db); err != nil {
		return fmt.Errorf("couldn't initialize guild store: %w", err)
	}
	slog.InfoContext(ctx, "initialized guild store", slog.String("db", dsn))
	return nil
}

var (
	flagConfig = cli.StringFlag{
		Name:       "config",
		Required:   true,
		Usage:      "TOML config file",
		Persistent: true,
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, either text or json",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}
)

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	var h slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	}
	return slog.New(h)
}

// metrics configuration
func newMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		EventCount: metrics.NewPromCounter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "discord",
					Name:      "messages",
					Help:      "Number of messages received from the Discord gateway.",
				},
			),
		),
		DispatchCount: metrics.NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "dispatch",
					Name:      "events",
					Help:      "Number of dispatched messages by outcome.",
				},
				[]string{"outcome"},
			),
		),
		HandlerLatency: metrics.NewPromObserverVec(
			prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 5, 10},
					Namespace: "warden",
					Subsystem: "commands",
					Name:      "latency",
					Help:      "How long command handlers take to run in seconds",
				},
				[]string{"command"},
			),
		),
		Denials: metrics.NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "pipeline",
					Name:      "denials",
					Help:      "Number of invocations stopped by middleware by reason.",
				},
				[]string{"reason"},
			),
		),
		CacheLookups: metrics.NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "guildcfg",
					Name:      "lookups",
					Help:      "Number of guild configuration cache lookups by result.",
				},
				[]string{"result"},
			),
		),
		StoreLatency: metrics.NewPromObserverVec(
			prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
					Namespace: "warden",
					Subsystem: "guildcfg",
					Name:      "store_latency",
					Help:      "How long guild store operations take in seconds",
				},
				[]string{"op"},
			),
		),
		JobRuns: metrics.NewPromCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "warden",
					Subsystem: "scheduler",
					Name:      "runs",
					Help:      "Number of recurring job ticks by job and outcome.",
				},
				[]string{"job", "outcome"},
			),
		),
	}
}
