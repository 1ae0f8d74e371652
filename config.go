package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/guildcfg/kvstore"
	"github.com/zephyrtronium/warden/guildcfg/sqlstore"
	"github.com/zephyrtronium/warden/permission"
)

// Load loads warden's TOML configuration.
func Load(ctx context.Context, r io.Reader) (*Config, *toml.MetaData, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	expandcfg(&cfg, os.Getenv)
	return &cfg, &md, nil
}

// loadFile loads the configuration from a file.
func loadFile(ctx context.Context, file string) (*Config, *toml.MetaData, error) {
	r, err := os.Open(file)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer r.Close()
	return Load(ctx, r)
}

// Config is the marshaled structure of warden's configuration.
type Config struct {
	// Discord is the configuration for connecting to Discord.
	Discord DiscordCfg `toml:"discord"`
	// Admins is the initial set of bot administrators.
	Admins AdminsCfg `toml:"admins"`
	// DB is the table of database connection strings.
	DB DBCfg `toml:"db"`
	// Cache is the guild configuration cache settings.
	Cache CacheCfg `toml:"cache"`
	// Categories is the list of command categories in resolution order.
	Categories []CategoryCfg `toml:"categories"`
	// Permissions adds permission nodes. Each value names a permission group
	// and a permission within it, e.g. ["text", "manage_messages"].
	Permissions map[string][]string `toml:"permissions"`
	// Commands overrides the declarations of built-in commands by name.
	Commands map[string]*CommandCfg `toml:"commands"`
	// HTTP is the metrics and debug server configuration.
	HTTP HTTPCfg `toml:"http"`
}

// DiscordCfg is the configuration for the Discord gateway.
type DiscordCfg struct {
	// TokenFile is the path to a file containing the bot token.
	TokenFile string `toml:"token"`
	// Workers is the number of idle dispatch workers kept for reuse.
	// Defaults to GOMAXPROCS.
	Workers int `toml:"workers"`
	// Rate is the global rate limit for notices.
	Rate Rate `toml:"rate"`
}

type AdminsCfg struct {
	// Users is the list of bot administrator user IDs.
	Users []string `toml:"users"`
}

// DBCfg is the configuration of databases. Exactly one of SQLite and Badger
// must be set.
type DBCfg struct {
	SQLite string `toml:"sqlite"`
	Badger string `toml:"badger"`
	// BadgerFlags is a Badger superflag string applied to Badger options.
	BadgerFlags string `toml:"badger_flags"`
}

// CacheCfg configures the guild configuration cache. Times are in seconds.
type CacheCfg struct {
	TTL         float64 `toml:"ttl"`
	Placeholder float64 `toml:"placeholder"`
	// Sweep is the interval between removals of expired entries.
	Sweep float64 `toml:"sweep"`
}

// CategoryCfg is a command category.
type CategoryCfg struct {
	Name   string `toml:"name"`
	Prefix string `toml:"prefix"`
}

// CommandCfg overrides a built-in command's declaration.
type CommandCfg struct {
	// Triggers replaces the command's triggers if not empty.
	Triggers []string `toml:"triggers"`
	// Middleware replaces the command's middleware if not nil.
	// An empty list removes all middleware.
	Middleware *[]string `toml:"middleware"`
	// Disabled prevents the command from being registered.
	Disabled bool `toml:"disabled"`
}

type HTTPCfg struct {
	Listen string `toml:"listen"`
}

// Rate is a rate limit configuration.
type Rate struct {
	Every float64 `toml:"every"`
	Num   int     `toml:"num"`
}

func expandcfg(cfg *Config, expand func(s string) string) {
	fields := []*string{
		&cfg.Discord.TokenFile,
		&cfg.DB.SQLite,
		&cfg.DB.Badger,
		&cfg.DB.BadgerFlags,
		&cfg.HTTP.Listen,
	}
	for _, f := range fields {
		*f = os.Expand(*f, expand)
	}
	for i, s := range cfg.Admins.Users {
		cfg.Admins.Users[i] = os.Expand(s, expand)
	}
	for i := range cfg.Categories {
		cfg.Categories[i].Prefix = os.Expand(cfg.Categories[i].Prefix, expand)
	}
}

// categories converts category configuration. If none are configured, the
// built-in defaults are used.
func (cfg *Config) categories() []command.Category {
	if len(cfg.Categories) == 0 {
		return []command.Category{
			{Name: "system", Prefix: ";"},
			{Name: "administration", Prefix: "!"},
			{Name: "general", Prefix: "!"},
		}
	}
	r := make([]command.Category, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		r = append(r, command.Category{Name: c.Name, Prefix: c.Prefix})
	}
	return r
}

// table builds the permission node table.
func (cfg *Config) table() (permission.Table, error) {
	t := permission.DefaultTable()
	if err := t.Merge(cfg.Permissions); err != nil {
		return nil, fmt.Errorf("bad permissions table: %w", err)
	}
	return t, nil
}

func (cfg *Config) cacheOptions() guildcfg.Options {
	return guildcfg.Options{
		TTL:            fseconds(cfg.Cache.TTL),
		PlaceholderTTL: fseconds(cfg.Cache.Placeholder),
	}
}

// apply returns d with the command's configured overrides.
func (c *CommandCfg) apply(d *command.Descriptor) (*command.Descriptor, error) {
	if c == nil {
		return d, nil
	}
	if len(c.Triggers) != 0 {
		d.Triggers = c.Triggers
	}
	if c.Middleware != nil {
		specs, err := command.ParseSpecs(d.Name, *c.Middleware...)
		if err != nil {
			return nil, err
		}
		d.Middleware = specs
	}
	return d, nil
}

// loader creates a command loader which reads the configuration file again
// on each call, so that reloads pick up changes to the command's overrides.
// The first load uses cfg.
func loader(ctx context.Context, file string, cfg *Config, build func() *command.Descriptor) command.Loader {
	first := cfg
	return func() (*command.Descriptor, error) {
		cfg := first
		if cfg == nil {
			var err error
			cfg, _, err = loadFile(ctx, file)
			if err != nil {
				return nil, err
			}
		}
		first = nil
		d := build()
		c := cfg.Commands[strings.ToLower(d.Name)]
		if c != nil && c.Disabled {
			return nil, &command.ConfigurationError{Command: d.Name, Msg: "command is disabled"}
		}
		return c.apply(d)
	}
}

// dbs is the set of databases in use.
type dbs struct {
	kv  *badger.DB
	sql *sqlitex.Pool
}

func (d *dbs) Close() error {
	if d.kv != nil {
		return d.kv.Close()
	}
	if d.sql != nil {
		return d.sql.Close()
	}
	return nil
}

func loadDBs(ctx context.Context, cfg DBCfg) (*dbs, error) {
	if cfg.Badger != "" && cfg.SQLite != "" {
		return nil, fmt.Errorf("multiple guild store backends requested; use exactly one")
	}
	if cfg.Badger == "" && cfg.SQLite == "" {
		return nil, fmt.Errorf("no guild store backends requested; use exactly one")
	}

	var r dbs
	if cfg.Badger != "" {
		slog.DebugContext(ctx, "using badger", slog.String("path", cfg.Badger), slog.String("flags", cfg.BadgerFlags))
		opts := badger.DefaultOptions(cfg.Badger)
		opts = opts.WithLogger(nil)
		opts = opts.WithCompression(options.None)
		kv, err := badger.Open(opts.FromSuperFlag(cfg.BadgerFlags))
		if err != nil {
			return nil, fmt.Errorf("couldn't open badger db: %w", err)
		}
		r.kv = kv
	}
	if cfg.SQLite != "" {
		slog.DebugContext(ctx, "using sqlite", slog.String("path", cfg.SQLite))
		sql, err := sqlitex.NewPool(cfg.SQLite, sqlitex.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("couldn't open sqlite db: %w", err)
		}
		r.sql = sql
	}
	return &r, nil
}

// store opens the guild store over the configured database.
func (d *dbs) store(ctx context.Context) (guildcfg.Store, error) {
	if d.kv != nil {
		return kvstore.New(d.kv), nil
	}
	if err := sqlstore.Init(ctx, d.sql); err != nil {
		return nil, fmt.Errorf("couldn't initialize guild store: %w", err)
	}
	s, err := sqlstore.Open(ctx, d.sql)
	if err != nil {
		return nil, fmt.Errorf("couldn't open guild store: %w", err)
	}
	return s, nil
}

func loadToken(file string) (string, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("couldn't read Discord token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func fseconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
