package guildcfg

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zephyrtronium/warden/metrics"
	"github.com/zephyrtronium/warden/syncmap"
)

// Options configures a Cache.
type Options struct {
	// TTL is the lifetime of configurations read from the store.
	// Defaults to five minutes.
	TTL time.Duration
	// PlaceholderTTL is the lifetime of placeholders installed while the
	// store is read. It should be comfortably longer than a store round trip.
	// Defaults to five seconds.
	PlaceholderTTL time.Duration
	// Log receives store failures. Defaults to slog.Default().
	Log *slog.Logger
	// Lookups observes cache lookups labeled by outcome.
	Lookups metrics.Observer
	// StoreLatency observes the duration of store operations in seconds,
	// labeled by operation.
	StoreLatency metrics.Observer
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Cache is a cache-aside layer over a Store.
//
// On a miss, the cache first installs a short-lived placeholder built from
// the live session, so that concurrent readers observe it instead of reading
// the store again. A single store read then fills the entry, inserting a
// default row if the guild has none.
type Cache struct {
	store   Store
	session Session
	opts    Options

	entries *syncmap.Map[string, entry]
	fill    singleflight.Group
	// gens issues fill generations.
	gens atomic.Uint64
}

// entry is a cached configuration. While a fill is running, gen holds the
// fill's generation; the fill installs its result only if the entry still
// carries it. An entry with a nil cfg exists only to hold a generation.
type entry struct {
	cfg *Config
	exp time.Time
	gen uint64
}

// New creates a cache over a store.
func New(store Store, session Session, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.PlaceholderTTL <= 0 {
		opts.PlaceholderTTL = 5 * time.Second
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:   store,
		session: session,
		opts:    opts,
		entries: syncmap.New[string, entry](),
	}
}

// Get returns a guild's configuration. If skipCache is true, the store is
// read regardless of what is cached, and the result replaces the entry.
//
// If the store fails, Get falls back to a cached value or placeholder if one
// exists. Otherwise the error is a *StoreError.
func (c *Cache) Get(ctx context.Context, id string, skipCache bool) (*Config, error) {
	now := c.opts.Now()
	stale, cached := c.entries.Load(id)
	if cached && !skipCache && now.Before(stale.exp) {
		if stale.cfg.Placeholder {
			metrics.Observe(c.opts.Lookups, 1, "placeholder")
		} else {
			metrics.Observe(c.opts.Lookups, 1, "hit")
		}
		return stale.cfg, nil
	}
	metrics.Observe(c.opts.Lookups, 1, "miss")
	info, known := c.session.Guild(id)
	var ph *Config
	if known && !skipCache {
		p := &Config{Row: Default(info), Placeholder: true}
		cur := c.entries.Update(id, func(old entry, ok bool) (entry, bool) {
			if ok && now.Before(old.exp) {
				return old, true
			}
			return entry{cfg: p, exp: now.Add(c.opts.PlaceholderTTL), gen: old.gen}, true
		})
		if cur.cfg != p {
			// Another reader got here first.
			return cur.cfg, nil
		}
		ph = p
	}
	v, err, _ := c.fill.Do(id, func() (any, error) {
		// Joined readers share the fill.
		return c.load(context.WithoutCancel(ctx), id, info, known)
	})
	if err == nil {
		return v.(*Config), nil
	}
	if errors.Is(err, ErrUnknownGuild) {
		return nil, err
	}
	c.opts.Log.ErrorContext(ctx, "guild config store failed", slog.String("guild", id), slog.Any("err", err))
	switch {
	case ph != nil:
		return ph, nil
	case cached && stale.cfg != nil:
		return stale.cfg, nil
	}
	return nil, err
}

// load reads a guild's row and installs it unless the guild is invalidated
// while the read is in flight.
func (c *Cache) load(ctx context.Context, id string, info Info, known bool) (*Config, error) {
	gen := c.gens.Add(1)
	c.entries.Update(id, func(old entry, ok bool) (entry, bool) {
		old.gen = gen
		return old, true
	})
	cfg, err := c.read(ctx, id, info, known)
	c.entries.Update(id, func(old entry, ok bool) (entry, bool) {
		switch {
		case !ok || old.gen != gen:
			return old, ok
		case err != nil:
			old.gen = 0
			return old, old.cfg != nil
		}
		return entry{cfg: cfg, exp: c.opts.Now().Add(c.opts.TTL)}, true
	})
	return cfg, err
}

// read reads a guild's row from the store, inserting a default row for a
// known guild that has none.
func (c *Cache) read(ctx context.Context, id string, info Info, known bool) (*Config, error) {
	start := time.Now()
	row, err := c.store.Guild(ctx, id)
	metrics.Observe(c.opts.StoreLatency, time.Since(start).Seconds(), "read")
	switch {
	case errors.Is(err, ErrNoRow):
		if !known {
			return nil, ErrUnknownGuild
		}
		row = Default(info)
		start = time.Now()
		err = c.store.InsertGuild(ctx, row)
		metrics.Observe(c.opts.StoreLatency, time.Since(start).Seconds(), "insert")
		if err != nil {
			return nil, &StoreError{Op: "insert", Guild: id, Err: err}
		}
	case err != nil:
		return nil, &StoreError{Op: "read", Guild: id, Err: err}
	}
	return &Config{Row: row}, nil
}

// Update writes fields to the store and then invalidates the cached entry.
// If the guild has no row yet, a default row with the fields applied is
// inserted. A row inserted concurrently by a reader still receives the
// fields.
func (c *Cache) Update(ctx context.Context, id string, f Fields) error {
	defer c.Invalidate(id)
	start := time.Now()
	err := c.store.UpdateGuild(ctx, id, f)
	metrics.Observe(c.opts.StoreLatency, time.Since(start).Seconds(), "update")
	if errors.Is(err, ErrNoRow) {
		info, ok := c.session.Guild(id)
		if !ok {
			info = Info{ID: id}
		}
		err = c.store.InsertGuild(ctx, f.Apply(Default(info)))
		if err != nil {
			return &StoreError{Op: "insert", Guild: id, Err: err}
		}
		// The insert does nothing if a row appeared since the update.
		err = c.store.UpdateGuild(ctx, id, f)
	}
	if err != nil {
		return &StoreError{Op: "update", Guild: id, Err: err}
	}
	return nil
}

// Invalidate drops a guild's cached entry.
// A fill in flight for the guild does not install what it read.
func (c *Cache) Invalidate(id string) {
	c.fill.Forget(id)
	c.entries.Delete(id)
}

// Sweep evicts expired entries and returns the number evicted. Entries with
// a fill in flight are kept.
func (c *Cache) Sweep(now time.Time) int {
	return c.entries.DeleteFunc(func(_ string, e entry) bool {
		return e.gen == 0 && !now.Before(e.exp)
	})
}

// Len returns the number of cached entries, including expired ones not yet
// swept.
func (c *Cache) Len() int {
	return c.entries.Len()
}
