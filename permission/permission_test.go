package permission

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
)

func TestDefaultTable(t *testing.T) {
	tab := DefaultTable()
	n, ok := tab.Lookup("text.manage_messages")
	if !ok {
		t.Fatal("text.manage_messages missing from default table")
	}
	if diff := cmp.Diff(Node{Group: "text", Perm: "manage_messages"}, n); diff != "" {
		t.Errorf("wrong node (-want +got):\n%s", diff)
	}
	if _, ok := tab.Lookup("text.nothing"); ok {
		t.Error("unknown node found")
	}
}

func TestMerge(t *testing.T) {
	cases := []struct {
		name string
		in   map[string][]string
		ok   bool
	}{
		{"alias", map[string][]string{"purge": {"text", "manage_messages"}}, true},
		{"short", map[string][]string{"purge": {"text"}}, false},
		{"long", map[string][]string{"purge": {"text", "manage_messages", "x"}}, false},
		{"unknown", map[string][]string{"purge": {"text", "juggle"}}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tab := DefaultTable()
			err := tab.Merge(c.in)
			if (err == nil) != c.ok {
				t.Errorf("wrong error: %v", err)
			}
			if c.ok {
				if _, ok := tab.Lookup("purge"); !ok {
					t.Error("merged node missing")
				}
			}
		})
	}
}

func TestBits(t *testing.T) {
	cases := []struct {
		name  string
		bits  Bits
		group string
		perm  string
		want  bool
	}{
		{"set", Bits(discordgo.PermissionManageMessages), "text", "manage_messages", true},
		{"unset", Bits(discordgo.PermissionSendMessages), "text", "manage_messages", false},
		{"admin", Bits(discordgo.PermissionAdministrator), "voice", "move_members", true},
		{"unknown", Bits(-1), "text", "juggle", true},
		{"unknown-plain", Bits(discordgo.PermissionSendMessages), "text", "juggle", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.bits.Has(c.group, c.perm); got != c.want {
				t.Errorf("wrong result for %s.%s: want %t, got %t", c.group, c.perm, c.want, got)
			}
		})
	}
}
