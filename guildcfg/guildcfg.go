// Package guildcfg provides per-guild configuration records and a cache-aside
// layer over their durable store.
package guildcfg

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"
)

// Row is the durable configuration of one guild.
type Row struct {
	ID    string
	Owner string
	Name  string
	// Prefixes maps command categories to prefix overrides.
	Prefixes map[string]string
	// Modules maps command categories to whether they are enabled.
	// Categories absent from the map are enabled.
	Modules map[string]bool
	// Aliases maps alias triggers to the invocations they expand to.
	Aliases map[string]string
	// LeftAt is the time the bot was removed from the guild, or the zero
	// time while the bot is a member.
	LeftAt time.Time
}

// Config is a cached guild configuration. Values returned from a Cache are
// shared and must not be modified.
type Config struct {
	Row
	// Placeholder indicates that the configuration was built from the live
	// session while the durable row is being read.
	Placeholder bool
}

// Prefix returns the guild's prefix for a category, or def if the guild has
// no override.
func (c *Config) Prefix(category, def string) string {
	if c == nil {
		return def
	}
	if p := c.Prefixes[category]; p != "" {
		return p
	}
	return def
}

// ModuleEnabled reports whether commands in the category are enabled.
func (c *Config) ModuleEnabled(category string) bool {
	if c == nil {
		return true
	}
	on, ok := c.Modules[category]
	return !ok || on
}

// Alias returns the invocation an alias expands to.
func (c *Config) Alias(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	s, ok := c.Aliases[name]
	return s, ok
}

// Fields is a partial update to a guild's configuration.
type Fields struct {
	Owner *string
	Name  *string
	// LeftAt sets the time the bot left the guild. A pointer to the zero
	// time marks the bot as present again.
	LeftAt *time.Time
	// Prefixes sets prefix overrides. An empty value removes an override.
	Prefixes map[string]string
	// Modules sets module states.
	Modules map[string]bool
	// Aliases sets aliases. An empty value removes an alias.
	Aliases map[string]string
}

// Apply returns a copy of r with f applied. r is not modified.
func (f Fields) Apply(r Row) Row {
	if f.Owner != nil {
		r.Owner = *f.Owner
	}
	if f.Name != nil {
		r.Name = *f.Name
	}
	if f.LeftAt != nil {
		r.LeftAt = *f.LeftAt
	}
	r.Prefixes = patch(r.Prefixes, f.Prefixes, func(v string) bool { return v == "" })
	r.Modules = patch(r.Modules, f.Modules, func(bool) bool { return false })
	r.Aliases = patch(r.Aliases, f.Aliases, func(v string) bool { return v == "" })
	return r
}

func patch[V any](m, p map[string]V, del func(V) bool) map[string]V {
	m = maps.Clone(m)
	if m == nil {
		m = make(map[string]V, len(p))
	}
	for k, v := range p {
		if del(v) {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	return m
}

// Info is the live information about a guild known to the gateway session.
type Info struct {
	ID    string
	Owner string
	Name  string
}

// Default returns the configuration row for a guild seen for the first time.
func Default(info Info) Row {
	return Row{
		ID:       info.ID,
		Owner:    info.Owner,
		Name:     info.Name,
		Prefixes: map[string]string{},
		Modules:  map[string]bool{},
		Aliases:  map[string]string{},
	}
}

// Store is durable storage for guild configuration.
type Store interface {
	// Guild reads a guild's row. If there is none, the error is ErrNoRow.
	Guild(ctx context.Context, id string) (Row, error)
	// InsertGuild adds a new guild row. If a row already exists for the
	// guild, InsertGuild leaves it unchanged and returns nil.
	InsertGuild(ctx context.Context, row Row) error
	// UpdateGuild applies fields to an existing row. If there is no row for
	// the guild, the error is ErrNoRow.
	UpdateGuild(ctx context.Context, id string, f Fields) error
}

// Session provides live guild information from the gateway connection.
type Session interface {
	// Guild returns the live information for a guild, if the session has it.
	Guild(id string) (Info, bool)
}

// ErrNoRow is the error a Store returns for a guild it has no row for.
var ErrNoRow = errors.New("no such guild")

// ErrUnknownGuild is returned by a Cache for a guild that neither the session
// nor the store knows.
var ErrUnknownGuild = errors.New("unknown guild")

// StoreError is an error from the durable store.
type StoreError struct {
	Op    string
	Guild string
	Err   error
}

func (err *StoreError) Error() string {
	return fmt.Sprintf("couldn't %s guild %s: %v", err.Op, err.Guild, err.Err)
}

func (err *StoreError) Unwrap() error {
	return err.Err
}
