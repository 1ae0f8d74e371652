package permission

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

var discordBits = map[string]int64{
	"general.create_instant_invite": discordgo.PermissionCreateInstantInvite,
	"general.kick_members":          discordgo.PermissionKickMembers,
	"general.ban_members":           discordgo.PermissionBanMembers,
	"general.administrator":         discordgo.PermissionAdministrator,
	"general.manage_channels":       discordgo.PermissionManageChannels,
	"general.manage_server":         discordgo.PermissionManageServer,
	"general.view_audit_logs":       discordgo.PermissionViewAuditLogs,
	"general.change_nickname":       discordgo.PermissionChangeNickname,
	"general.manage_nicknames":      discordgo.PermissionManageNicknames,
	"general.manage_roles":          discordgo.PermissionManageRoles,
	"general.manage_webhooks":       discordgo.PermissionManageWebhooks,

	"text.add_reactions":        discordgo.PermissionAddReactions,
	"text.read_messages":        discordgo.PermissionViewChannel,
	"text.send_messages":        discordgo.PermissionSendMessages,
	"text.send_tts_messages":    discordgo.PermissionSendTTSMessages,
	"text.manage_messages":      discordgo.PermissionManageMessages,
	"text.embed_links":          discordgo.PermissionEmbedLinks,
	"text.attach_files":         discordgo.PermissionAttachFiles,
	"text.read_message_history": discordgo.PermissionReadMessageHistory,
	"text.mention_everyone":     discordgo.PermissionMentionEveryone,
	"text.external_emojis":      discordgo.PermissionUseExternalEmojis,

	"voice.connect":        discordgo.PermissionVoiceConnect,
	"voice.speak":          discordgo.PermissionVoiceSpeak,
	"voice.mute_members":   discordgo.PermissionVoiceMuteMembers,
	"voice.deafen_members": discordgo.PermissionVoiceDeafenMembers,
	"voice.move_members":   discordgo.PermissionVoiceMoveMembers,
	"voice.use_vad":        discordgo.PermissionVoiceUseVAD,
}

// Bits is a Lookup over a Discord permission bit set.
type Bits int64

// Has reports whether the bit for group.perm is set. Administrator grants
// every permission.
func (b Bits) Has(group, perm string) bool {
	if b&discordgo.PermissionAdministrator != 0 {
		return true
	}
	bit, ok := discordBits[group+"."+perm]
	return ok && int64(b)&bit != 0
}

// Discord resolves permissions from a Discord session's state cache.
type Discord struct {
	State *discordgo.State
}

var _ Resolver = (*Discord)(nil)

// Self returns the bot's user ID.
func (d *Discord) Self() string {
	if d.State.User == nil {
		return ""
	}
	return d.State.User.ID
}

// Permissions computes effective permissions. Guild-level permissions are the
// union of the member's roles including @everyone; channel-level permissions
// additionally apply the channel's overwrites.
func (d *Discord) Permissions(ctx context.Context, userID, guildID, channelID string) (Lookup, error) {
	if channelID != "" {
		p, err := d.State.UserChannelPermissions(userID, channelID)
		if err != nil {
			return nil, fmt.Errorf("couldn't get channel permissions for user %s in %s: %w", userID, channelID, err)
		}
		return Bits(p), nil
	}
	g, err := d.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("couldn't get guild %s: %w", guildID, err)
	}
	if g.OwnerID == userID {
		return Bits(discordgo.PermissionAll), nil
	}
	m, err := d.State.Member(guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("couldn't get member %s of %s: %w", userID, guildID, err)
	}
	var p int64
	if r, err := d.State.Role(guildID, guildID); err == nil {
		// @everyone has the guild's ID.
		p |= r.Permissions
	}
	for _, id := range m.Roles {
		r, err := d.State.Role(guildID, id)
		if err != nil {
			continue
		}
		p |= r.Permissions
	}
	if p&discordgo.PermissionAdministrator != 0 {
		p = discordgo.PermissionAll
	}
	return Bits(p), nil
}

// Roles returns the member's roles, excluding @everyone.
func (d *Discord) Roles(ctx context.Context, userID, guildID string) ([]Role, error) {
	m, err := d.State.Member(guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("couldn't get member %s of %s: %w", userID, guildID, err)
	}
	r := make([]Role, 0, len(m.Roles))
	for _, id := range m.Roles {
		role, err := d.State.Role(guildID, id)
		if err != nil {
			continue
		}
		r = append(r, Role{ID: role.ID, Name: role.Name})
	}
	return r, nil
}
