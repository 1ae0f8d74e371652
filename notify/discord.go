package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

const (
	colorWarn    = 0xe67e22
	colorSuccess = 0x2ecc71
	colorInfo    = 0x3498db
)

// Discord sends notices as embeds through a Discord session.
type Discord struct {
	Session *discordgo.Session
	// Limit bounds outbound notices globally. If nil, sends are unlimited.
	Limit *rate.Limiter
}

var _ Notifier = (*Discord)(nil)

func (d *Discord) Warn(ctx context.Context, channel, text string, ph map[string]string) (Message, error) {
	return d.send(ctx, colorWarn, channel, text, ph)
}

func (d *Discord) Success(ctx context.Context, channel, text string, ph map[string]string) (Message, error) {
	return d.send(ctx, colorSuccess, channel, text, ph)
}

func (d *Discord) Info(ctx context.Context, channel, text string, ph map[string]string) (Message, error) {
	return d.send(ctx, colorInfo, channel, text, ph)
}

func (d *Discord) send(ctx context.Context, color int, channel, text string, ph map[string]string) (Message, error) {
	if d.Limit != nil {
		if err := d.Limit.Wait(ctx); err != nil {
			return Message{}, fmt.Errorf("couldn't wait to send to %s: %w", channel, err)
		}
	}
	e := discordgo.MessageEmbed{
		Description: Expand(text, ph),
		Color:       color,
	}
	m, err := d.Session.ChannelMessageSendEmbed(channel, &e, discordgo.WithContext(ctx))
	if err != nil {
		return Message{}, fmt.Errorf("couldn't send to %s: %w", channel, err)
	}
	return Message{Channel: m.ChannelID, ID: m.ID}, nil
}

// Delete deletes a sent notice.
func (d *Discord) Delete(ctx context.Context, msg Message) error {
	if err := d.Session.ChannelMessageDelete(msg.Channel, msg.ID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("couldn't delete message %s in %s: %w", msg.ID, msg.Channel, err)
	}
	return nil
}
