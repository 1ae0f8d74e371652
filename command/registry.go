package command

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zephyrtronium/warden/guildcfg"
)

// Category is a group of commands sharing a default prefix and a module
// switch.
type Category struct {
	Name   string
	Prefix string
}

// Loader produces a command descriptor. Loaders are run on registration and
// again each time the command is reloaded.
type Loader func() (*Descriptor, error)

// Registry holds the registered commands.
//
// Reads see an immutable snapshot, and every change installs a new snapshot
// at once, so readers never observe a partial registration or reload.
type Registry struct {
	categories []Category
	index      map[string]int
	// Validate, if not nil, checks each descriptor before it is registered
	// or reloaded.
	Validate func(*Descriptor) error

	mu      sync.Mutex
	loaders map[string]Loader
	cur     atomic.Pointer[snapshot]
}

type snapshot struct {
	byName map[string]*Descriptor
	// byCat maps each category index to its commands by trigger.
	byCat []map[string]*Descriptor
}

// Match is the result of resolving message text.
type Match struct {
	Descriptor *Descriptor
	// Prefix is the prefix stripped from the text.
	Prefix string
	// Trigger is the canonicalized trigger that selected the command.
	Trigger string
	// Args is the arguments to the command.
	Args []string
	// Alias is the alias the user typed, if the command was reached
	// through one.
	Alias string
}

// NewRegistry creates an empty registry. The order of categories breaks ties
// between categories that share a prefix.
func NewRegistry(categories []Category) (*Registry, error) {
	r := &Registry{
		categories: slices.Clone(categories),
		index:      make(map[string]int, len(categories)),
		loaders:    make(map[string]Loader),
	}
	for i, c := range categories {
		if c.Name == "" {
			return nil, &ConfigurationError{Msg: "category with no name"}
		}
		if _, ok := r.index[c.Name]; ok {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("duplicate category %q", c.Name)}
		}
		if c.Prefix == "" {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("category %q has no prefix", c.Name)}
		}
		r.index[c.Name] = i
	}
	s := &snapshot{
		byName: make(map[string]*Descriptor),
		byCat:  make([]map[string]*Descriptor, len(categories)),
	}
	for i := range s.byCat {
		s.byCat[i] = make(map[string]*Descriptor)
	}
	r.cur.Store(s)
	return r, nil
}

// Register adds a command.
func (r *Registry) Register(d *Descriptor) error {
	return r.Load(func() (*Descriptor, error) { return d, nil })
}

// Load adds a command produced by a loader. Reload runs the loader again.
func (r *Registry) Load(load Loader) error {
	d, err := load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.cur.Load()
	if _, ok := cur.byName[d.Name]; ok {
		return &DuplicateCommandError{Name: d.Name}
	}
	next, err := r.with(cur, d)
	if err != nil {
		return err
	}
	r.loaders[d.Name] = load
	r.cur.Store(next)
	return nil
}

// Reload runs a command's loader again and replaces the command with the
// result in one step. On error, the registry is unchanged.
func (r *Registry) Reload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	load, ok := r.loaders[name]
	if !ok {
		return fmt.Errorf("couldn't reload %q: %w", name, ErrNotFound)
	}
	d, err := load()
	if err != nil {
		return fmt.Errorf("couldn't reload %q: %w", name, err)
	}
	if d.Name != name {
		return &ConfigurationError{Command: name, Msg: fmt.Sprintf("reload produced command %q", d.Name)}
	}
	next, err := r.with(r.cur.Load(), d)
	if err != nil {
		return err
	}
	r.cur.Store(next)
	return nil
}

// with returns a copy of s with d added, replacing any command of the same
// name.
func (r *Registry) with(s *snapshot, d *Descriptor) (*snapshot, error) {
	d, err := r.normalize(d)
	if err != nil {
		return nil, err
	}
	next := &snapshot{
		byName: maps.Clone(s.byName),
		byCat:  make([]map[string]*Descriptor, len(s.byCat)),
	}
	for i, m := range s.byCat {
		next.byCat[i] = maps.Clone(m)
	}
	if old := next.byName[d.Name]; old != nil {
		m := next.byCat[r.index[old.Category]]
		for _, t := range old.Triggers {
			delete(m, t)
		}
	}
	ns := r.categories[r.index[d.Category]].Prefix
	for _, t := range d.Triggers {
		for i, c := range r.categories {
			if c.Prefix != ns {
				continue
			}
			if e := next.byCat[i][t]; e != nil {
				return nil, &DuplicateTriggerError{Trigger: t, Command: d.Name, Existing: e.Name}
			}
		}
		next.byCat[r.index[d.Category]][t] = d
	}
	next.byName[d.Name] = d
	return next, nil
}

// normalize checks a descriptor and returns a copy with lowercased triggers.
func (r *Registry) normalize(d *Descriptor) (*Descriptor, error) {
	if d.Name == "" {
		return nil, &ConfigurationError{Msg: "command with no name"}
	}
	if _, ok := r.index[d.Category]; !ok {
		return nil, &ConfigurationError{Command: d.Name, Msg: fmt.Sprintf("unknown category %q", d.Category)}
	}
	if d.Handler == nil {
		return nil, &ConfigurationError{Command: d.Name, Msg: "no handler"}
	}
	if len(d.Triggers) == 0 {
		return nil, &ConfigurationError{Command: d.Name, Msg: "no triggers"}
	}
	n := *d
	n.Triggers = make([]string, 0, len(d.Triggers))
	for _, t := range d.Triggers {
		t = lower(t)
		if t == "" || strings.ContainsFunc(t, unicode.IsSpace) {
			return nil, &ConfigurationError{Command: d.Name, Msg: fmt.Sprintf("invalid trigger %q", t)}
		}
		if slices.Contains(n.Triggers, t) {
			return nil, &ConfigurationError{Command: d.Name, Msg: fmt.Sprintf("trigger %q listed twice", t)}
		}
		n.Triggers = append(n.Triggers, t)
	}
	if r.Validate != nil {
		if err := r.Validate(&n); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

// Resolve finds the command invoked by message text. guild supplies prefix
// overrides and aliases and may be nil.
//
// The longest effective prefix the text starts with is stripped. Exact
// triggers in categories using that prefix are tried in category order, then
// the guild's aliases. If nothing matches, the error is ErrNotFound.
func (r *Registry) Resolve(text string, guild *guildcfg.Config) (Match, error) {
	s := r.cur.Load()
	var prefix string
	for _, c := range r.categories {
		p := guild.Prefix(c.Name, c.Prefix)
		if len(p) > len(prefix) && strings.HasPrefix(text, p) {
			prefix = p
		}
	}
	if prefix == "" {
		return Match{}, ErrNotFound
	}
	rest := text[len(prefix):]
	if c, _ := utf8.DecodeRuneInString(rest); unicode.IsSpace(c) {
		return Match{}, ErrNotFound
	}
	f := strings.Fields(rest)
	if len(f) == 0 {
		return Match{}, ErrNotFound
	}
	trig, args := lower(f[0]), f[1:]
	for i, c := range r.categories {
		if guild.Prefix(c.Name, c.Prefix) != prefix {
			continue
		}
		if d := s.byCat[i][trig]; d != nil {
			return Match{Descriptor: d, Prefix: prefix, Trigger: trig, Args: args}, nil
		}
	}
	exp, ok := guild.Alias(trig)
	if !ok {
		return Match{}, ErrNotFound
	}
	ef := strings.Fields(exp)
	if len(ef) == 0 {
		return Match{}, ErrNotFound
	}
	at := lower(ef[0])
	for i := range r.categories {
		if d := s.byCat[i][at]; d != nil {
			a := append(slices.Clip(ef[1:]), args...)
			return Match{Descriptor: d, Prefix: prefix, Trigger: at, Args: a, Alias: trig}, nil
		}
	}
	return Match{}, ErrNotFound
}

// Lookup returns the command with the given name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.cur.Load().byName[name]
	return d, ok
}

// Find returns the command with the given trigger in any category.
func (r *Registry) Find(trigger string) (*Descriptor, bool) {
	s := r.cur.Load()
	trigger = lower(trigger)
	for _, m := range s.byCat {
		if d := m[trigger]; d != nil {
			return d, true
		}
	}
	return nil, false
}

// Commands returns all registered commands ordered by category, then name.
func (r *Registry) Commands() []*Descriptor {
	s := r.cur.Load()
	ds := slices.Collect(maps.Values(s.byName))
	slices.SortFunc(ds, func(a, b *Descriptor) int {
		return cmp.Or(cmp.Compare(r.index[a.Category], r.index[b.Category]), strings.Compare(a.Name, b.Name))
	})
	return ds
}

// Categories returns the registry's categories in declaration order.
func (r *Registry) Categories() []Category {
	return slices.Clone(r.categories)
}

// lower lowercases a trigger. A Caser holds state, so each call gets its own.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}
