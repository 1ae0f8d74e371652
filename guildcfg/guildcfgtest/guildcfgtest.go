// Package guildcfgtest provides testing facilities for guild configuration
// stores and their users.
package guildcfgtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/zephyrtronium/warden/guildcfg"
)

// Test runs the integration test suite against stores produced by new.
//
// If a store cannot be created without error, new should call t.Fatal.
func Test(ctx context.Context, t *testing.T, new func(context.Context) guildcfg.Store) {
	t.Run("missing", testMissing(ctx, new(ctx)))
	t.Run("insert", testInsert(ctx, new(ctx)))
	t.Run("insertTwice", testInsertTwice(ctx, new(ctx)))
	t.Run("update", testUpdate(ctx, new(ctx)))
	t.Run("updateMissing", testUpdateMissing(ctx, new(ctx)))
}

var kessoku = guildcfg.Row{
	ID:       "1",
	Owner:    "nijika",
	Name:     "kessoku band",
	Prefixes: map[string]string{"music": "!"},
	Modules:  map[string]bool{"fun": false},
	Aliases:  map[string]string{"p": "purge 10"},
}

// rowcmp compares rows treating nil and empty maps as equal.
var rowcmp = cmp.Options{cmpopts.EquateEmpty(), cmpopts.EquateApproxTime(time.Millisecond)}

func testMissing(ctx context.Context, s guildcfg.Store) func(t *testing.T) {
	return func(t *testing.T) {
		_, err := s.Guild(ctx, "404")
		if !errors.Is(err, guildcfg.ErrNoRow) {
			t.Errorf("wrong error for missing guild: want ErrNoRow, got %v", err)
		}
	}
}

func testInsert(ctx context.Context, s guildcfg.Store) func(t *testing.T) {
	return func(t *testing.T) {
		if err := s.InsertGuild(ctx, kessoku); err != nil {
			t.Fatalf("couldn't insert: %v", err)
		}
		got, err := s.Guild(ctx, kessoku.ID)
		if err != nil {
			t.Fatalf("couldn't read back: %v", err)
		}
		if diff := cmp.Diff(kessoku, got, rowcmp); diff != "" {
			t.Errorf("wrong row (-want +got):\n%s", diff)
		}
	}
}

func testInsertTwice(ctx context.Context, s guildcfg.Store) func(t *testing.T) {
	return func(t *testing.T) {
		if err := s.InsertGuild(ctx, kessoku); err != nil {
			t.Fatalf("couldn't insert: %v", err)
		}
		again := guildcfg.Default(guildcfg.Info{ID: kessoku.ID, Owner: "seika", Name: "starry"})
		if err := s.InsertGuild(ctx, again); err != nil {
			t.Fatalf("second insert failed: %v", err)
		}
		got, err := s.Guild(ctx, kessoku.ID)
		if err != nil {
			t.Fatalf("couldn't read back: %v", err)
		}
		if diff := cmp.Diff(kessoku, got, rowcmp); diff != "" {
			t.Errorf("second insert changed row (-want +got):\n%s", diff)
		}
	}
}

func testUpdate(ctx context.Context, s guildcfg.Store) func(t *testing.T) {
	return func(t *testing.T) {
		if err := s.InsertGuild(ctx, kessoku); err != nil {
			t.Fatalf("couldn't insert: %v", err)
		}
		name := "sick hack"
		left := time.UnixMilli(1700000000000)
		f := guildcfg.Fields{
			Name:     &name,
			LeftAt:   &left,
			Prefixes: map[string]string{"music": "", "general": "?"},
			Modules:  map[string]bool{"fun": true, "music": false},
			Aliases:  map[string]string{"p": "", "q": "queue"},
		}
		if err := s.UpdateGuild(ctx, kessoku.ID, f); err != nil {
			t.Fatalf("couldn't update: %v", err)
		}
		want := guildcfg.Row{
			ID:       kessoku.ID,
			Owner:    kessoku.Owner,
			Name:     "sick hack",
			Prefixes: map[string]string{"general": "?"},
			Modules:  map[string]bool{"fun": true, "music": false},
			Aliases:  map[string]string{"q": "queue"},
			LeftAt:   left,
		}
		got, err := s.Guild(ctx, kessoku.ID)
		if err != nil {
			t.Fatalf("couldn't read back: %v", err)
		}
		if diff := cmp.Diff(want, got, rowcmp); diff != "" {
			t.Errorf("wrong row after update (-want +got):\n%s", diff)
		}
	}
}

func testUpdateMissing(ctx context.Context, s guildcfg.Store) func(t *testing.T) {
	return func(t *testing.T) {
		name := "nobody"
		err := s.UpdateGuild(ctx, "404", guildcfg.Fields{Name: &name})
		if !errors.Is(err, guildcfg.ErrNoRow) {
			t.Errorf("wrong error updating missing guild: want ErrNoRow, got %v", err)
		}
	}
}
