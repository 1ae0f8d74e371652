// Package notifytest provides a recording Notifier for tests.
package notifytest

import (
	"context"
	"strconv"
	"sync"

	"github.com/zephyrtronium/warden/notify"
)

// Notice is a recorded notice.
type Notice struct {
	Level   string
	Channel string
	Text    string
}

// Recorder is a notify.Notifier that records expanded notices.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
	deleted []notify.Message
	n       int
}

var _ notify.Notifier = (*Recorder)(nil)

func (r *Recorder) record(level, channel, text string, ph map[string]string) notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Level: level, Channel: channel, Text: notify.Expand(text, ph)})
	r.n++
	return notify.Message{Channel: channel, ID: strconv.Itoa(r.n)}
}

func (r *Recorder) Warn(ctx context.Context, channel, text string, ph map[string]string) (notify.Message, error) {
	return r.record("warn", channel, text, ph), nil
}

func (r *Recorder) Success(ctx context.Context, channel, text string, ph map[string]string) (notify.Message, error) {
	return r.record("success", channel, text, ph), nil
}

func (r *Recorder) Info(ctx context.Context, channel, text string, ph map[string]string) (notify.Message, error) {
	return r.record("info", channel, text, ph), nil
}

func (r *Recorder) Delete(ctx context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, msg)
	return nil
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Deleted returns a copy of the deleted messages.
func (r *Recorder) Deleted() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.deleted...)
}
