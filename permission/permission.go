// Package permission maps permission nodes to platform permissions and
// resolves effective permissions for users in a guild or channel.
package permission

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Lookup is a resolved set of effective permissions.
type Lookup interface {
	// Has reports whether the permission perm in group is granted.
	Has(group, perm string) bool
}

// Resolver resolves effective permissions.
type Resolver interface {
	// Permissions returns the effective permissions of a user. If channelID
	// is empty, the result is the user's guild-level permissions.
	Permissions(ctx context.Context, userID, guildID, channelID string) (Lookup, error)
	// Roles returns the roles a user holds in a guild.
	Roles(ctx context.Context, userID, guildID string) ([]Role, error)
	// Self returns the ID of the bot's own user.
	Self() string
}

// Role is a guild role.
type Role struct {
	ID   string
	Name string
}

// Node is a group and permission pair referenced by a permission node.
type Node struct {
	Group string
	Perm  string
}

func (n Node) String() string {
	return n.Group + "." + n.Perm
}

// Table maps permission node names to the permissions they check.
type Table map[string]Node

// DefaultTable returns a table containing every known permission under its
// own name, e.g. "text.manage_messages".
func DefaultTable() Table {
	t := make(Table, len(discordBits))
	for k := range discordBits {
		g, p, _ := strings.Cut(k, ".")
		t[k] = Node{Group: g, Perm: p}
	}
	return t
}

// Lookup returns the permission for a node.
func (t Table) Lookup(node string) (Node, bool) {
	n, ok := t[node]
	return n, ok
}

// Merge adds entries to the table from a config-style mapping of node names
// to two-element [group, permission] lists.
func (t Table) Merge(m map[string][]string) error {
	for _, node := range slices.Sorted(maps.Keys(m)) {
		v := m[node]
		if len(v) != 2 {
			return fmt.Errorf("permission node %q must name exactly a group and a permission, got %q", node, v)
		}
		n := Node{Group: v[0], Perm: v[1]}
		if _, ok := discordBits[n.String()]; !ok {
			return fmt.Errorf("permission node %q refers to unknown permission %s", node, n)
		}
		t[node] = n
	}
	return nil
}
