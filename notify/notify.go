// Package notify defines how the dispatcher and commands surface outcomes
// to users.
package notify

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
)

// Notifier sends short user-facing notices to a channel.
// Text may contain :name placeholders which are replaced from ph.
type Notifier interface {
	Warn(ctx context.Context, channel, text string, ph map[string]string) (Message, error)
	Success(ctx context.Context, channel, text string, ph map[string]string) (Message, error)
	Info(ctx context.Context, channel, text string, ph map[string]string) (Message, error)
	// Delete deletes a message previously sent.
	Delete(ctx context.Context, msg Message) error
}

// Message identifies a sent notice.
type Message struct {
	Channel string
	ID      string
}

// Expand replaces each :name in text with ph[name].
// Longer names are matched first, so :commands is not read as :command.
func Expand(text string, ph map[string]string) string {
	if len(ph) == 0 {
		return text
	}
	keys := slices.SortedFunc(maps.Keys(ph), func(a, b string) int {
		return cmp.Or(cmp.Compare(len(b), len(a)), strings.Compare(a, b))
	})
	r := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		r = append(r, ":"+k, ph[k])
	}
	return strings.NewReplacer(r...).Replace(text)
}
