// Package kvstore implements guild configuration storage on Badger.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-json-experiment/json"

	"github.com/zephyrtronium/warden/guildcfg"
)

/*
Key structure:
"guild\x00" × guild ID
Values are JSON records. Times are unix milliseconds, zero while the bot is
in the guild.
*/

// Store is a guildcfg.Store backed by a Badger database.
type Store struct {
	db *badger.DB
}

var _ guildcfg.Store = (*Store)(nil)

// New creates a store over a Badger database.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

type record struct {
	Owner    string            `json:"owner"`
	Name     string            `json:"name"`
	Prefixes map[string]string `json:"prefixes"`
	Modules  map[string]bool   `json:"modules"`
	Aliases  map[string]string `json:"aliases"`
	LeftAt   int64             `json:"left_at"`
}

func key(id string) []byte {
	return append([]byte("guild\x00"), id...)
}

func encode(r guildcfg.Row) ([]byte, error) {
	rec := record{
		Owner:    r.Owner,
		Name:     r.Name,
		Prefixes: r.Prefixes,
		Modules:  r.Modules,
		Aliases:  r.Aliases,
	}
	if !r.LeftAt.IsZero() {
		rec.LeftAt = r.LeftAt.UnixMilli()
	}
	return json.Marshal(&rec)
}

func get(txn *badger.Txn, id string) (guildcfg.Row, error) {
	item, err := txn.Get(key(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return guildcfg.Row{}, guildcfg.ErrNoRow
		}
		return guildcfg.Row{}, fmt.Errorf("couldn't get guild %s: %w", id, err)
	}
	var rec record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return guildcfg.Row{}, fmt.Errorf("couldn't decode guild %s: %w", id, err)
	}
	r := guildcfg.Row{
		ID:       id,
		Owner:    rec.Owner,
		Name:     rec.Name,
		Prefixes: rec.Prefixes,
		Modules:  rec.Modules,
		Aliases:  rec.Aliases,
	}
	if rec.LeftAt != 0 {
		r.LeftAt = time.UnixMilli(rec.LeftAt)
	}
	return r, nil
}

// Guild reads a guild's row.
func (s *Store) Guild(ctx context.Context, id string) (guildcfg.Row, error) {
	var r guildcfg.Row
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = get(txn, id)
		return err
	})
	return r, err
}

// InsertGuild adds a guild's row if it does not already exist.
func (s *Store) InsertGuild(ctx context.Context, row guildcfg.Row) error {
	b, err := encode(row)
	if err != nil {
		return fmt.Errorf("couldn't encode guild %s: %w", row.ID, err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key(row.ID))
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("couldn't check guild %s: %w", row.ID, err)
		}
		return txn.Set(key(row.ID), b)
	})
}

// UpdateGuild applies fields to a guild's row.
func (s *Store) UpdateGuild(ctx context.Context, id string, f guildcfg.Fields) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		r, err := get(txn, id)
		if err != nil {
			return err
		}
		b, err := encode(f.Apply(r))
		if err != nil {
			return fmt.Errorf("couldn't encode guild %s: %w", id, err)
		}
		return txn.Set(key(id), b)
	})
}

// update runs a read-write transaction, retrying on conflicts with concurrent
// writers.
func (s *Store) update(ctx context.Context, f func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(f)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
