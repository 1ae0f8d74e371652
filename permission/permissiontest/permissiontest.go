// Package permissiontest provides a fixed permission resolver for tests.
package permissiontest

import (
	"context"

	"github.com/zephyrtronium/warden/permission"
)

// Key identifies a set of permissions in a Static resolver.
// An empty Channel is guild-level.
type Key struct {
	User    string
	Guild   string
	Channel string
}

// Static is a permission.Resolver over fixed tables.
// Missing entries resolve to no permissions.
type Static struct {
	SelfID string
	Perms  map[Key]permission.Bits
	Member map[Key][]permission.Role
	// Err, if not nil, is returned from every resolution.
	Err error
}

var _ permission.Resolver = (*Static)(nil)

func (s *Static) Permissions(ctx context.Context, userID, guildID, channelID string) (permission.Lookup, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Perms[Key{User: userID, Guild: guildID, Channel: channelID}], nil
}

func (s *Static) Roles(ctx context.Context, userID, guildID string) ([]permission.Role, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Member[Key{User: userID, Guild: guildID}], nil
}

func (s *Static) Self() string {
	return s.SelfID
}
