package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/dispatch"
	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/metrics"
)

// discord opens the gateway connection and handles events until ctx is
// canceled.
func (w *Warden) discord(ctx context.Context) error {
	w.session.AddHandler(func(s *discordgo.Session, ev *discordgo.MessageCreate) {
		w.onMessage(ctx, ev)
	})
	w.session.AddHandler(func(s *discordgo.Session, ev *discordgo.GuildCreate) {
		w.onGuildCreate(ctx, ev)
	})
	w.session.AddHandler(func(s *discordgo.Session, ev *discordgo.GuildDelete) {
		w.onGuildDelete(ctx, ev)
	})
	w.session.AddHandler(func(s *discordgo.Session, ev *discordgo.Ready) {
		slog.InfoContext(ctx, "connected to Discord",
			slog.String("user", ev.User.ID),
			slog.Int("guilds", len(ev.Guilds)),
		)
	})
	if err := w.session.Open(); err != nil {
		return fmt.Errorf("couldn't connect to Discord: %w", err)
	}
	<-ctx.Done()
	return w.session.Close()
}

func (w *Warden) onMessage(ctx context.Context, ev *discordgo.MessageCreate) {
	// Ignore bots, including ourselves.
	if ev.Author == nil || ev.Author.Bot {
		return
	}
	metrics.Observe(w.metrics.EventCount, 1)
	e := dispatch.Event{
		ID:       ev.ID,
		Sender:   ev.Author.ID,
		Text:     ev.Content,
		GuildID:  ev.GuildID,
		Channel:  ev.ChannelID,
		IsDirect: ev.GuildID == "",
		Mentions: make([]string, 0, len(ev.Mentions)),
	}
	for _, u := range ev.Mentions {
		e.Mentions = append(e.Mentions, u.ID)
	}
	w.enqueue(ctx, func(ctx context.Context) {
		err := w.dispatch.Dispatch(ctx, e)
		if err != nil && !errors.Is(err, command.ErrNotFound) {
			slog.DebugContext(ctx, "dispatch stopped", slog.String("trace", e.ID), slog.Any("err", err))
		}
	})
}

func (w *Warden) onGuildCreate(ctx context.Context, ev *discordgo.GuildCreate) {
	if ev.Unavailable {
		return
	}
	// Joining or rejoining a guild clears its departure time.
	var present time.Time
	f := guildcfg.Fields{Owner: &ev.OwnerID, Name: &ev.Name, LeftAt: &present}
	if err := w.robo.Guilds.Update(ctx, ev.ID, f); err != nil {
		slog.ErrorContext(ctx, "couldn't record guild join", slog.String("guild", ev.ID), slog.Any("err", err))
		return
	}
	slog.InfoContext(ctx, "in guild", slog.String("guild", ev.ID), slog.String("name", ev.Name))
}

func (w *Warden) onGuildDelete(ctx context.Context, ev *discordgo.GuildDelete) {
	// An unavailable guild is an outage, not a departure.
	if ev.Unavailable {
		return
	}
	now := time.Now()
	if err := w.robo.Guilds.Update(ctx, ev.ID, guildcfg.Fields{LeftAt: &now}); err != nil {
		slog.ErrorContext(ctx, "couldn't record guild departure", slog.String("guild", ev.ID), slog.Any("err", err))
		return
	}
	slog.InfoContext(ctx, "left guild", slog.String("guild", ev.ID))
}

func (w *Warden) enqueue(ctx context.Context, work func(context.Context)) {
	var ch chan func(context.Context)
	// Get a worker if one exists. Otherwise, spawn a new one.
	select {
	case ch = <-w.works:
	default:
		ch = make(chan func(context.Context), 1)
		go worker(ctx, w.works, ch)
	}
	select {
	case <-ctx.Done():
		return
	case ch <- work:
	}
}

// worker runs works until the pool has no room for it.
func worker(ctx context.Context, works chan chan func(context.Context), ch chan func(context.Context)) {
	for {
		select {
		case <-ctx.Done():
			return
		case work := <-ch:
			work(ctx)
			select {
			case works <- ch:
			default:
				return
			}
		}
	}
}

// discordGuilds reports guilds from the session state.
type discordGuilds struct {
	session *discordgo.Session
}

func (d discordGuilds) Guild(id string) (guildcfg.Info, bool) {
	g, err := d.session.State.Guild(id)
	if err != nil {
		return guildcfg.Info{}, false
	}
	return guildcfg.Info{ID: g.ID, Owner: g.OwnerID, Name: g.Name}, true
}

// bulkAge is how old a message may be for Discord to allow bulk deleting it,
// less a minute of slack for clock drift.
const bulkAge = 14*24*time.Hour - time.Minute

// purgeScan is the maximum number of pages of history a purge reads.
const purgeScan = 20

// discordChannels performs channel operations through the session.
type discordChannels struct {
	session *discordgo.Session
}

func (d discordChannels) Purge(ctx context.Context, channel string, n int, authors []string) (int, error) {
	cutoff := time.Now().Add(-bulkAge)
	ids := make([]string, 0, n)
	before := ""
scan:
	for range purgeScan {
		page, err := d.session.ChannelMessages(channel, 100, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return 0, fmt.Errorf("couldn't get messages in %s: %w", channel, err)
		}
		for _, m := range page {
			if m.Timestamp.Before(cutoff) {
				break scan
			}
			if len(authors) != 0 && (m.Author == nil || !slices.Contains(authors, m.Author.ID)) {
				continue
			}
			ids = append(ids, m.ID)
			if len(ids) == n {
				break scan
			}
		}
		if len(page) < 100 {
			break
		}
		before = page[len(page)-1].ID
	}
	k := 0
	for len(ids) > 0 {
		l := ids[:min(len(ids), 100)]
		ids = ids[len(l):]
		var err error
		if len(l) == 1 {
			// Bulk delete requires at least two messages.
			err = d.session.ChannelMessageDelete(channel, l[0], discordgo.WithContext(ctx))
		} else {
			err = d.session.ChannelMessagesBulkDelete(channel, l, discordgo.WithContext(ctx))
		}
		if err != nil {
			return k, fmt.Errorf("couldn't delete messages in %s: %w", channel, err)
		}
		k += len(l)
	}
	return k, nil
}
