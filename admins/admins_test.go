package admins_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/warden/admins"
)

func TestList(t *testing.T) {
	type check struct {
		user string
		ok   bool
	}
	cases := []struct {
		name string
		seed []string
		add  []string
		rem  []string
		chk  []check
	}{
		{
			name: "empty",
			chk:  []check{{"bocchi", false}},
		},
		{
			name: "seeded",
			seed: []string{"bocchi"},
			chk:  []check{{"bocchi", true}, {"ryou", false}},
		},
		{
			name: "added",
			add:  []string{"ryou"},
			chk:  []check{{"bocchi", false}, {"ryou", true}},
		},
		{
			name: "removed",
			seed: []string{"bocchi", "ryou"},
			rem:  []string{"bocchi"},
			chk:  []check{{"bocchi", false}, {"ryou", true}},
		},
		{
			name: "readded",
			seed: []string{"bocchi"},
			rem:  []string{"bocchi"},
			add:  []string{"bocchi"},
			chk:  []check{{"bocchi", true}},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l := admins.New(c.seed...)
			for _, u := range c.rem {
				if !l.Remove(u) {
					t.Errorf("removing %s reported absent", u)
				}
			}
			for _, u := range c.add {
				if !l.Add(u) {
					t.Errorf("adding %s reported present", u)
				}
			}
			for _, chk := range c.chk {
				err := l.Check(chk.user)
				if chk.ok && err != nil {
					t.Errorf("%s should be admin but got %v", chk.user, err)
				}
				if !chk.ok && !errors.Is(err, admins.ErrNotAdmin) {
					t.Errorf("%s should not be admin but got %v", chk.user, err)
				}
			}
		})
	}
}

func TestAll(t *testing.T) {
	l := admins.New("ryou", "bocchi")
	l.Add("nijika")
	if l.Add("bocchi") {
		t.Error("re-adding bocchi reported new")
	}
	if l.Remove("kita") {
		t.Error("removing absent kita reported present")
	}
	want := []string{"bocchi", "nijika", "ryou"}
	if diff := cmp.Diff(want, l.All()); diff != "" {
		t.Errorf("wrong admins (-want +got):\n%s", diff)
	}
}
