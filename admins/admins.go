// Package admins tracks the users allowed to run bot administration
// commands.
package admins

import (
	"errors"
	"slices"

	"github.com/zephyrtronium/warden/syncmap"
)

// ErrNotAdmin is the error returned by Check when the user is not an admin.
var ErrNotAdmin = errors.New("user is not a bot admin")

// List is a mutable set of bot admin user IDs.
// Changes made at runtime last until the process exits.
type List struct {
	m *syncmap.Map[string, struct{}]
}

// New creates a list seeded with the given users.
func New(users ...string) *List {
	l := &List{m: syncmap.New[string, struct{}]()}
	for _, u := range users {
		l.m.Store(u, struct{}{})
	}
	return l
}

// Add adds a user to the list. It reports whether the user was newly added.
func (l *List) Add(user string) bool {
	_, loaded := l.m.LoadOrStore(user, struct{}{})
	return !loaded
}

// Remove removes a user from the list. It reports whether the user was
// present.
func (l *List) Remove(user string) bool {
	var had bool
	l.m.Update(user, func(_ struct{}, ok bool) (struct{}, bool) {
		had = ok
		return struct{}{}, false
	})
	return had
}

// Check returns ErrNotAdmin if the user is not in the list.
func (l *List) Check(user string) error {
	if _, ok := l.m.Load(user); !ok {
		return ErrNotAdmin
	}
	return nil
}

// All returns the admins in sorted order.
func (l *List) All() []string {
	r := make([]string, 0, l.m.Len())
	for k := range l.m.All() {
		r = append(r, k)
	}
	slices.Sort(r)
	return r
}
