package guildcfgtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zephyrtronium/warden/guildcfg"
)

// Mem is an in-memory guildcfg.Store which counts operations.
type Mem struct {
	mu   sync.Mutex
	rows map[string]guildcfg.Row

	// Gate, if not nil, is received from before each read completes.
	Gate chan struct{}
	// Err, if set, is returned from every operation.
	Err atomic.Pointer[error]

	Reads   atomic.Int64
	Inserts atomic.Int64
	Updates atomic.Int64
}

var _ guildcfg.Store = (*Mem)(nil)

// NewMem creates an empty store.
func NewMem() *Mem {
	return &Mem{rows: make(map[string]guildcfg.Row)}
}

func (m *Mem) err() error {
	if p := m.Err.Load(); p != nil {
		return *p
	}
	return nil
}

// Fail makes every subsequent operation return err. A nil err clears it.
func (m *Mem) Fail(err error) {
	if err == nil {
		m.Err.Store(nil)
		return
	}
	m.Err.Store(&err)
}

func (m *Mem) Guild(ctx context.Context, id string) (guildcfg.Row, error) {
	m.Reads.Add(1)
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return guildcfg.Row{}, ctx.Err()
		}
	}
	if err := m.err(); err != nil {
		return guildcfg.Row{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return guildcfg.Row{}, guildcfg.ErrNoRow
	}
	return guildcfg.Fields{}.Apply(r), nil
}

func (m *Mem) InsertGuild(ctx context.Context, row guildcfg.Row) error {
	m.Inserts.Add(1)
	if err := m.err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[row.ID]; ok {
		return nil
	}
	m.rows[row.ID] = guildcfg.Fields{}.Apply(row)
	return nil
}

func (m *Mem) UpdateGuild(ctx context.Context, id string, f guildcfg.Fields) error {
	m.Updates.Add(1)
	if err := m.err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return guildcfg.ErrNoRow
	}
	m.rows[id] = f.Apply(r)
	return nil
}

// Rows returns the number of stored rows.
func (m *Mem) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Session is a guildcfg.Session over a fixed set of guilds.
type Session map[string]guildcfg.Info

func (s Session) Guild(id string) (guildcfg.Info, bool) {
	g, ok := s[id]
	return g, ok
}
