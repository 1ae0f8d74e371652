package guildcfg_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/guildcfg/guildcfgtest"
)

var session = guildcfgtest.Session{
	"1": {ID: "1", Owner: "nijika", Name: "kessoku band"},
	"2": {ID: "2", Owner: "kikuri", Name: "sick hack"},
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(store guildcfg.Store, clk *clock) *guildcfg.Cache {
	opts := guildcfg.Options{
		TTL:            time.Minute,
		PlaceholderTTL: 5 * time.Second,
		Log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if clk != nil {
		opts.Now = clk.Now
	}
	return guildcfg.New(store, session, opts)
}

func TestConcurrentMiss(t *testing.T) {
	ctx := context.Background()
	store := guildcfgtest.NewMem()
	store.Gate = make(chan struct{})
	c := newCache(store, nil)
	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg, err := c.Get(ctx, "1", false)
			if err != nil {
				errs <- err
				return
			}
			if cfg.Name != "kessoku band" {
				errs <- errors.New("wrong name " + cfg.Name)
			}
		}()
	}
	// Let the placeholder holders finish while the one read is held.
	time.Sleep(20 * time.Millisecond)
	close(store.Gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if got := store.Reads.Load(); got != 1 {
		t.Errorf("wrong number of store reads: want 1, got %d", got)
	}
	if got := store.Inserts.Load(); got != 1 {
		t.Errorf("wrong number of store inserts: want 1, got %d", got)
	}
	if got := store.Rows(); got != 1 {
		t.Errorf("wrong number of rows: want 1, got %d", got)
	}
}

func TestUnknownGuildPlaceholder(t *testing.T) {
	ctx := context.Background()
	store := guildcfgtest.NewMem()
	store.Gate = make(chan struct{})
	c := newCache(store, nil)
	done := make(chan *guildcfg.Config)
	go func() {
		cfg, err := c.Get(ctx, "2", false)
		if err != nil {
			t.Errorf("fill failed: %v", err)
		}
		done <- cfg
	}()
	for store.Reads.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	ph, err := c.Get(ctx, "2", false)
	if err != nil {
		t.Fatalf("couldn't get placeholder: %v", err)
	}
	if !ph.Placeholder {
		t.Errorf("expected a placeholder, got %+v", ph)
	}
	if ph.Name != "sick hack" {
		t.Errorf("wrong placeholder name: want %q, got %q", "sick hack", ph.Name)
	}
	close(store.Gate)
	full := <-done
	if full.Placeholder {
		t.Errorf("fill returned placeholder")
	}
	if full.Name != "sick hack" {
		t.Errorf("wrong name after fill: want %q, got %q", "sick hack", full.Name)
	}
	if got := store.Rows(); got != 1 {
		t.Errorf("wrong number of rows: want 1, got %d", got)
	}
	// Now cached.
	cfg, err := c.Get(ctx, "2", false)
	if err != nil {
		t.Fatal(err)
	}
	if cfg != full {
		t.Errorf("second get did not hit cache")
	}
}

func TestExistingRow(t *testing.T) {
	ctx := context.Background()
	store := guildcfgtest.NewMem()
	row := guildcfg.Default(session["1"])
	row.Prefixes["general"] = "?"
	if err := store.InsertGuild(ctx, row); err != nil {
		t.Fatal(err)
	}
	store.Inserts.Store(0)
	c := newCache(store, nil)
	cfg, err := c.Get(ctx, "1", false)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Prefix("general", "."); got != "?" {
		t.Errorf("wrong prefix: want ?, got %q", got)
	}
	if got := cfg.Prefix("music", "."); got != "." {
		t.Errorf("wrong default prefix: want ., got %q", got)
	}
	if got := store.Inserts.Load(); got != 0 {
		t.Errorf("inserted %d rows for existing guild", got)
	}
}

func TestUpdateThenGet(t *testing.T) {
	ctx := context.Background()
	store := guildcfgtest.NewMem()
	c := newCache(store, nil)
	if _, err := c.Get(ctx, "1", false); err != nil {
		t.Fatal(err)
	}
	f := guildcfg.Fields{
		Aliases: map[string]string{"p": "purge 10"},
		Modules: map[string]bool{"fun": false},
	}
	if err := c.Update(ctx, "1", f); err != nil {
		t.Fatalf("couldn't update: %v", err)
	}
	cfg, err := c.Get(ctx, "1", false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"p": "purge 10"}, cfg.Aliases); diff != "" {
		t.Errorf("stale aliases (-want +got):\n%s", diff)
	}
	if cfg.ModuleEnabled("fun") {
		t.Error("fun still enabled")
	}
	if !cfg.ModuleEnabled("music") {
		t.Error("music disabled")
	}
}

func TestUpdateMissingRow(t *testing.T) {
	ctx := context.Background()
	store := guildcfgtest.NewMem()
	c := newCache(store, nil)
	if err := c.Update(ctx, "1", guildcfg.Fields{Prefixes: map[string]string{"general": "!"}}); err != nil {
		t.Fatal(err)
	}
	cfg, err := c.Get(ctx, "1", false)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "kessoku band" || cfg.Prefix("general", ".") != "!" {
		t.Errorf("wrong config after update of missing row: %+v", cfg)
	}
}

func TestSkipCache(t *testing.T) {
	ctx := context.Background()
	store := guildcfgtest.NewMem()
	c := newCache(store, nil)
	first, err := c.Get(ctx, "1", false)
	if err != nil {
		t.Fatal(err)
	}
	// Change the store behind the cache's back.
	if err := store.UpdateGuild(ctx, "1", guildcfg.Fields{Aliases: map[string]string{"x": "y"}}); err != nil {
		t.Fatal(err)
	}
	cached, err := c.Get(ctx, "1", false)
	if err != nil {
		t.Fatal(err)
	}
	if cached != first {
		t.Error("cached read did not hit cache")
	}
	fresh, err := c.Get(ctx, "1", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fresh.Alias("x"); !ok {
		t.Error("skipCache read is stale")
	}
	again, err := c.Get(ctx, "1", false)
	if err != nil {
		t.Fatal(err)
	}
	if again != fresh {
		t.Error("skipCache read did not replace the entry")
	}
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk on fire")
	t.Run("placeholder", func(t *testing.T) {
		store := guildcfgtest.NewMem()
		store.Fail(boom)
		c := newCache(store, nil)
		cfg, err := c.Get(ctx, "1", false)
		if err != nil {
			t.Fatalf("expected placeholder fallback, got %v", err)
		}
		if !cfg.Placeholder || cfg.Name != "kessoku band" {
			t.Errorf("wrong fallback: %+v", cfg)
		}
	})
	t.Run("stale", func(t *testing.T) {
		store := guildcfgtest.NewMem()
		clk := &clock{now: time.Unix(1e9, 0)}
		c := newCache(store, clk)
		first, err := c.Get(ctx, "1", false)
		if err != nil {
			t.Fatal(err)
		}
		store.Fail(boom)
		cfg, err := c.Get(ctx, "1", true)
		if err != nil {
			t.Fatalf("expected cached fallback, got %v", err)
		}
		if cfg != first {
			t.Errorf("wrong fallback: %+v", cfg)
		}
	})
	t.Run("none", func(t *testing.T) {
		store := guildcfgtest.NewMem()
		store.Fail(boom)
		c := newCache(store, nil)
		_, err := c.Get(ctx, "3", false)
		var serr *guildcfg.StoreError
		if !errors.As(err, &serr) {
			t.Fatalf("wrong error: want *StoreError, got %v", err)
		}
		if !errors.Is(err, boom) {
			t.Errorf("StoreError does not wrap cause: %v", err)
		}
	})
	t.Run("update", func(t *testing.T) {
		store := guildcfgtest.NewMem()
		store.Fail(boom)
		c := newCache(store, nil)
		err := c.Update(ctx, "1", guildcfg.Fields{})
		var serr *guildcfg.StoreError
		if !errors.As(err, &serr) {
			t.Fatalf("wrong error: want *StoreError, got %v", err)
		}
	})
}

func TestUnknownGuild(t *testing.T) {
	ctx := context.Background()
	store := guildcfgtest.NewMem()
	c := newCache(store, nil)
	_, err := c.Get(ctx, "3", false)
	if !errors.Is(err, guildcfg.ErrUnknownGuild) {
		t.Errorf("wrong error: want ErrUnknownGuild, got %v", err)
	}
	if got := store.Rows(); got != 0 {
		t.Errorf("inserted row for unknown guild")
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	store := guildcfgtest.NewMem()
	clk := &clock{now: time.Unix(1e9, 0)}
	c := newCache(store, clk)
	if _, err := c.Get(ctx, "1", false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "2", false); err != nil {
		t.Fatal(err)
	}
	if n := c.Sweep(clk.Now()); n != 0 {
		t.Errorf("swept %d live entries", n)
	}
	clk.Advance(time.Minute)
	if n := c.Sweep(clk.Now()); n != 2 {
		t.Errorf("wrong number swept: want 2, got %d", n)
	}
	if c.Len() != 0 {
		t.Errorf("entries remain after sweep: %d", c.Len())
	}
	if _, err := c.Get(ctx, "1", false); err != nil {
		t.Fatal(err)
	}
	if got := store.Reads.Load(); got != 3 {
		t.Errorf("wrong number of reads: want 3, got %d", got)
	}
}

func TestConfigNil(t *testing.T) {
	var c *guildcfg.Config
	if got := c.Prefix("general", "."); got != "." {
		t.Errorf("wrong prefix from nil config: %q", got)
	}
	if !c.ModuleEnabled("fun") {
		t.Error("module disabled in nil config")
	}
	if _, ok := c.Alias("x"); ok {
		t.Error("alias in nil config")
	}
}

func TestInvalidateOtherGuildKeepsFill(t *testing.T) {
	ctx := context.Background()
	store := guildcfgtest.NewMem()
	row := guildcfg.Default(session["1"])
	row.Prefixes["general"] = "?"
	if err := store.InsertGuild(ctx, row); err != nil {
		t.Fatal(err)
	}
	store.Gate = make(chan struct{})
	c := newCache(store, nil)
	done := make(chan *guildcfg.Config)
	go func() {
		cfg, err := c.Get(ctx, "1", false)
		if err != nil {
			t.Errorf("fill failed: %v", err)
		}
		done <- cfg
	}()
	for store.Reads.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	c.Invalidate("2")
	close(store.Gate)
	first := <-done
	if first.Placeholder || first.Prefix("general", "!") != "?" {
		t.Errorf("wrong filled config: %+v", first)
	}
	cfg, err := c.Get(ctx, "1", false)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Placeholder {
		t.Error("fill was not installed")
	}
	if got := cfg.Prefix("general", "!"); got != "?" {
		t.Errorf("wrong prefix: want ?, got %q", got)
	}
	if got := store.Reads.Load(); got != 1 {
		t.Errorf("wrong number of store reads: want 1, got %d", got)
	}
}

// racyStore inserts a default row as soon as an update finds none, as a
// concurrent first read would.
type racyStore struct {
	*guildcfgtest.Mem
	raced bool
}

func (s *racyStore) UpdateGuild(ctx context.Context, id string, f guildcfg.Fields) error {
	err := s.Mem.UpdateGuild(ctx, id, f)
	if errors.Is(err, guildcfg.ErrNoRow) && !s.raced {
		s.raced = true
		if err := s.Mem.InsertGuild(ctx, guildcfg.Default(session[id])); err != nil {
			return err
		}
	}
	return err
}

func TestUpdateMissingRowRace(t *testing.T) {
	ctx := context.Background()
	store := &racyStore{Mem: guildcfgtest.NewMem()}
	c := newCache(store, nil)
	if err := c.Update(ctx, "1", guildcfg.Fields{Prefixes: map[string]string{"general": "?"}}); err != nil {
		t.Fatalf("couldn't update: %v", err)
	}
	if !store.raced {
		t.Fatal("store did not race the insert")
	}
	cfg, err := c.Get(ctx, "1", false)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Prefix("general", "!"); got != "?" {
		t.Errorf("update dropped: want prefix ?, got %q", got)
	}
}

func TestFillOutlivesCanceledCaller(t *testing.T) {
	store := guildcfgtest.NewMem()
	row := guildcfg.Default(session["1"])
	row.Prefixes["general"] = "?"
	if err := store.InsertGuild(context.Background(), row); err != nil {
		t.Fatal(err)
	}
	store.Gate = make(chan struct{})
	c := newCache(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan *guildcfg.Config)
	go func() {
		cfg, err := c.Get(ctx, "1", false)
		if err != nil {
			t.Errorf("get failed: %v", err)
		}
		done <- cfg
	}()
	for store.Reads.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(store.Gate)
	cfg := <-done
	if cfg.Placeholder {
		t.Error("canceled caller failed the fill")
	}
	if got := cfg.Prefix("general", "!"); got != "?" {
		t.Errorf("wrong prefix: want ?, got %q", got)
	}
}
