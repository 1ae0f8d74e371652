// Package sqlstore implements guild configuration storage on SQLite.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/guildcfg"
)

// Store is a guildcfg.Store backed by an SQL database.
type Store struct {
	db *sqlitex.Pool
}

var _ guildcfg.Store = (*Store)(nil)

// Open opens an existing guild configuration store in an SQL database.
func Open(ctx context.Context, db *sqlitex.Pool) (*Store, error) {
	return &Store{db: db}, nil
}

const schema = `CREATE TABLE IF NOT EXISTS guild (
	id       TEXT PRIMARY KEY,
	owner    TEXT NOT NULL,
	name     TEXT NOT NULL,
	prefixes TEXT NOT NULL DEFAULT '{}',
	modules  TEXT NOT NULL DEFAULT '{}',
	aliases  TEXT NOT NULL DEFAULT '{}',
	left_at  INTEGER
) STRICT`

// Init initializes guild configuration storage in an SQL database.
// For convenience, it accepts either a single connection or a pool.
func Init[DB *sqlite.Conn | *sqlitex.Pool](ctx context.Context, db DB) error {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get connection from pool: %w", err)
		}
	}
	if err := sqlitex.ExecuteTransient(conn, schema, nil); err != nil {
		return fmt.Errorf("couldn't create guild table: %w", err)
	}
	return nil
}

// Guild reads a guild's row.
func (s *Store) Guild(ctx context.Context, id string) (guildcfg.Row, error) {
	conn, err := s.db.Take(ctx)
	defer s.db.Put(conn)
	if err != nil {
		return guildcfg.Row{}, fmt.Errorf("couldn't get connection to read guild: %w", err)
	}
	return read(conn, id)
}

func read(conn *sqlite.Conn, id string) (guildcfg.Row, error) {
	var (
		r     guildcfg.Row
		found bool
		jerr  error
	)
	opts := sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(st *sqlite.Stmt) error {
			found = true
			r.ID = st.ColumnText(0)
			r.Owner = st.ColumnText(1)
			r.Name = st.ColumnText(2)
			if err := json.Unmarshal([]byte(st.ColumnText(3)), &r.Prefixes); err != nil {
				jerr = fmt.Errorf("couldn't decode prefixes: %w", err)
			}
			if err := json.Unmarshal([]byte(st.ColumnText(4)), &r.Modules); err != nil {
				jerr = fmt.Errorf("couldn't decode modules: %w", err)
			}
			if err := json.Unmarshal([]byte(st.ColumnText(5)), &r.Aliases); err != nil {
				jerr = fmt.Errorf("couldn't decode aliases: %w", err)
			}
			if st.ColumnType(6) != sqlite.TypeNull {
				r.LeftAt = time.UnixMilli(st.ColumnInt64(6))
			}
			return nil
		},
	}
	err := sqlitex.Execute(conn, `SELECT id, owner, name, prefixes, modules, aliases, left_at FROM guild WHERE id = ?`, &opts)
	if err != nil {
		return guildcfg.Row{}, fmt.Errorf("couldn't read guild %s: %w", id, err)
	}
	if !found {
		return guildcfg.Row{}, guildcfg.ErrNoRow
	}
	if jerr != nil {
		return guildcfg.Row{}, fmt.Errorf("guild %s: %w", id, jerr)
	}
	return r, nil
}

// InsertGuild adds a guild's row if it does not already exist.
func (s *Store) InsertGuild(ctx context.Context, row guildcfg.Row) error {
	conn, err := s.db.Take(ctx)
	defer s.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to insert guild: %w", err)
	}
	args, err := columns(row)
	if err != nil {
		return err
	}
	opts := sqlitex.ExecOptions{Args: args}
	err = sqlitex.Execute(conn, `INSERT INTO guild (id, owner, name, prefixes, modules, aliases, left_at) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`, &opts)
	if err != nil {
		return fmt.Errorf("couldn't insert guild %s: %w", row.ID, err)
	}
	return nil
}

// UpdateGuild applies fields to a guild's row.
func (s *Store) UpdateGuild(ctx context.Context, id string, f guildcfg.Fields) (err error) {
	conn, err := s.db.Take(ctx)
	defer s.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to update guild: %w", err)
	}
	defer sqlitex.Transaction(conn)(&err)
	r, err := read(conn, id)
	if err != nil {
		return err
	}
	args, err := columns(f.Apply(r))
	if err != nil {
		return err
	}
	opts := sqlitex.ExecOptions{Args: append(args[1:], id)}
	err = sqlitex.Execute(conn, `UPDATE guild SET owner = ?, name = ?, prefixes = ?, modules = ?, aliases = ?, left_at = ? WHERE id = ?`, &opts)
	if err != nil {
		return fmt.Errorf("couldn't update guild %s: %w", id, err)
	}
	return nil
}

// columns returns the column values of a row in table order.
func columns(r guildcfg.Row) ([]any, error) {
	p, err := json.Marshal(r.Prefixes)
	if err != nil {
		return nil, fmt.Errorf("couldn't encode prefixes: %w", err)
	}
	m, err := json.Marshal(r.Modules)
	if err != nil {
		return nil, fmt.Errorf("couldn't encode modules: %w", err)
	}
	a, err := json.Marshal(r.Aliases)
	if err != nil {
		return nil, fmt.Errorf("couldn't encode aliases: %w", err)
	}
	var left any
	if !r.LeftAt.IsZero() {
		left = r.LeftAt.UnixMilli()
	}
	return []any{r.ID, r.Owner, r.Name, string(p), string(m), string(a), left}, nil
}
