package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/warden/admins"
	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/notify/notifytest"
	"github.com/zephyrtronium/warden/permission"
	"github.com/zephyrtronium/warden/permission/permissiontest"
	"github.com/zephyrtronium/warden/pipeline"
	"github.com/zephyrtronium/warden/throttle"
)

const (
	bot  = "bot"
	user = "bocchi"
	gid  = "kessoku"
	cid  = "starry"
)

type fixture struct {
	p     *pipeline.Pipeline
	rec   *notifytest.Recorder
	perms *permissiontest.Static
	now   time.Time
}

func newFixture() *fixture {
	f := &fixture{
		rec:   new(notifytest.Recorder),
		perms: &permissiontest.Static{SelfID: bot, Perms: map[permissiontest.Key]permission.Bits{}},
		now:   time.Unix(1e9, 0),
	}
	f.p = pipeline.New(pipeline.Config{
		Limiter:     throttle.New(),
		Permissions: f.perms,
		Admins:      admins.New("ryou"),
		Notify:      f.rec,
		Now:         func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) grant(who, channel string, b permission.Bits) {
	f.perms.Perms[permissiontest.Key{User: who, Guild: gid, Channel: channel}] = b
}

func request(name string, specs ...string) (*pipeline.Request, []command.Spec) {
	d := &command.Descriptor{Name: name, Category: "administration", Triggers: []string{name}, Middleware: command.MustSpecs(specs...)}
	call := &command.Invocation{Sender: user, GuildID: gid, Channel: cid, Prefix: ".", Trigger: name}
	return &pipeline.Request{Command: d, Call: call}, d.Middleware
}

// run runs the pipeline and reports whether the final step was reached.
func (f *fixture) run(req *pipeline.Request, specs []command.Spec) (bool, error) {
	reached := false
	err := f.p.Run(context.Background(), req, specs, func(ctx context.Context) error {
		reached = true
		return nil
	})
	return reached, err
}

func reason(err error) pipeline.Reason {
	var d *pipeline.Denied
	if errors.As(err, &d) {
		return d.Reason
	}
	return ""
}

func TestOrder(t *testing.T) {
	f := newFixture()
	var got []string
	mark := func(s string) pipeline.Middleware {
		return func(ctx context.Context, req *pipeline.Request, spec command.Spec, next pipeline.Next) error {
			got = append(got, s+":"+spec.Roles[0])
			return next(ctx)
		}
	}
	f.p.Bind(command.KindHasRole, mark("role"))
	req, specs := request("x", "hasRole:a", "hasRole:b", "hasRole:c")
	reached, err := f.run(req, specs)
	if !reached || err != nil {
		t.Fatalf("pipeline did not complete: %t %v", reached, err)
	}
	if diff := cmp.Diff([]string{"role:a", "role:b", "role:c"}, got); diff != "" {
		t.Errorf("wrong order (-want +got):\n%s", diff)
	}
}

func TestShortCircuit(t *testing.T) {
	f := newFixture()
	later := false
	f.p.Bind(command.KindHasRole, func(ctx context.Context, req *pipeline.Request, spec command.Spec, next pipeline.Next) error {
		later = true
		return next(ctx)
	})
	req, specs := request("x", "isBotAdmin", "hasRole:a")
	reached, err := f.run(req, specs)
	if reached {
		t.Error("handler reached after denial")
	}
	if later {
		t.Error("middleware after denial ran")
	}
	if reason(err) != pipeline.Unauthorized {
		t.Errorf("wrong error: %v", err)
	}
	if n := f.rec.Notices(); len(n) != 1 || n[0].Level != "warn" || n[0].Channel != cid {
		t.Errorf("wrong notices: %+v", n)
	}
}

func TestPurgeThrottle(t *testing.T) {
	f := newFixture()
	req, specs := request("purge", "throttle.channel:1,5")
	reached, err := f.run(req, specs)
	if !reached || err != nil {
		t.Fatalf("first purge denied: %v", err)
	}
	f.now = f.now.Add(2 * time.Second)
	// Another user in the same channel shares the bucket.
	req.Call.Sender = "ryou"
	reached, err = f.run(req, specs)
	if reached {
		t.Error("second purge allowed")
	}
	var d *pipeline.Denied
	if !errors.As(err, &d) || d.Reason != pipeline.Throttled {
		t.Fatalf("wrong error: %v", err)
	}
	if d.RetryAfter != 3*time.Second {
		t.Errorf("wrong retry: want 3s, got %v", d.RetryAfter)
	}
	want := []notifytest.Notice{{Level: "warn", Channel: cid, Text: "Slow down! You can use `.purge` again in 3 seconds."}}
	if diff := cmp.Diff(want, f.rec.Notices()); diff != "" {
		t.Errorf("wrong notices (-want +got):\n%s", diff)
	}
	f.now = f.now.Add(3 * time.Second)
	if reached, err := f.run(req, specs); !reached || err != nil {
		t.Errorf("purge still denied after window: %v", err)
	}
}

func TestThrottleScopes(t *testing.T) {
	f := newFixture()
	req, specs := request("play", "throttle.user.channel:1,10")
	if reached, _ := f.run(req, specs); !reached {
		t.Fatal("first call denied")
	}
	// A different user in the same channel passes the user scope but is
	// denied by the channel scope, and must not consume their user slot.
	req.Call.Sender = "nijika"
	if _, err := f.run(req, specs); reason(err) != pipeline.Throttled {
		t.Fatalf("channel scope did not deny: %v", err)
	}
	req.Call.Channel = "elsewhere"
	if reached, err := f.run(req, specs); !reached {
		t.Errorf("denied call consumed user slot: %v", err)
	}
}

func TestRequire(t *testing.T) {
	const mm = permission.Bits(0x2000) // manage messages
	cases := []struct {
		name   string
		grants map[permissiontest.Key]permission.Bits
		want   pipeline.Reason
		notice string
	}{
		{
			name: "all",
			grants: map[permissiontest.Key]permission.Bits{
				{User: bot, Guild: gid}:               mm,
				{User: bot, Guild: gid, Channel: cid}: mm,
				{User: user, Guild: gid}:              mm,
			},
		},
		{
			name: "user-channel-only",
			grants: map[permissiontest.Key]permission.Bits{
				{User: bot, Guild: gid}:                mm,
				{User: bot, Guild: gid, Channel: cid}:  mm,
				{User: user, Guild: gid, Channel: cid}: mm,
			},
		},
		{
			name: "bot-missing-user-has",
			grants: map[permissiontest.Key]permission.Bits{
				{User: user, Guild: gid}:               mm,
				{User: user, Guild: gid, Channel: cid}: mm,
			},
			want:   pipeline.BotMissing,
			notice: "I'm missing the `text.manage_messages` permission. Grant it to me and try again.",
		},
		{
			name: "bot-missing-in-channel",
			grants: map[permissiontest.Key]permission.Bits{
				{User: bot, Guild: gid}:  mm,
				{User: user, Guild: gid}: mm,
			},
			want:   pipeline.BotMissing,
			notice: "I'm missing the `text.manage_messages` permission. Grant it to me and try again.",
		},
		{
			name:   "both-missing",
			grants: nil,
			want:   pipeline.BotMissing,
			notice: "I'm missing the `text.manage_messages` permission. Grant it to me and try again.",
		},
		{
			name: "user-missing",
			grants: map[permissiontest.Key]permission.Bits{
				{User: bot, Guild: gid}:               mm,
				{User: bot, Guild: gid, Channel: cid}: mm,
			},
			want:   pipeline.UserMissing,
			notice: "You need the `text.manage_messages` permission to use this command.",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture()
			for k, v := range c.grants {
				f.grant(k.User, k.Channel, v)
			}
			req, specs := request("purge", "require:text.manage_messages")
			reached, err := f.run(req, specs)
			if got := reason(err); got != c.want {
				t.Errorf("wrong outcome: want %q, got %q (%v)", c.want, got, err)
			}
			if reached != (c.want == "") {
				t.Errorf("wrong reached: %t", reached)
			}
			n := f.rec.Notices()
			if c.notice == "" {
				if len(n) != 0 {
					t.Errorf("unexpected notices: %+v", n)
				}
				return
			}
			if len(n) != 1 || n[0].Text != c.notice {
				t.Errorf("wrong notices: %+v", n)
			}
		})
	}
}

func TestRequireDirect(t *testing.T) {
	f := newFixture()
	req, specs := request("purge", "require:text.manage_messages")
	req.Call.IsDirect = true
	req.Call.GuildID = ""
	if reached, err := f.run(req, specs); !reached || err != nil {
		t.Errorf("DM did not pass require: %v", err)
	}
}

func TestRequireResolverError(t *testing.T) {
	f := newFixture()
	boom := errors.New("no state")
	f.perms.Err = boom
	req, specs := request("purge", "require:text.manage_messages")
	reached, err := f.run(req, specs)
	if reached || !errors.Is(err, boom) {
		t.Errorf("wrong result: %t %v", reached, err)
	}
	if reason(err) != "" {
		t.Errorf("resolver failure reported as denial: %v", err)
	}
}

func TestIsBotAdmin(t *testing.T) {
	f := newFixture()
	req, specs := request("reload", "isBotAdmin")
	if _, err := f.run(req, specs); reason(err) != pipeline.Unauthorized {
		t.Errorf("non-admin allowed: %v", err)
	}
	req.Call.Sender = "ryou"
	if reached, err := f.run(req, specs); !reached {
		t.Errorf("admin denied: %v", err)
	}
}

func TestHasRole(t *testing.T) {
	f := newFixture()
	f.perms.Member = map[permissiontest.Key][]permission.Role{
		{User: user, Guild: gid}: {{ID: "10", Name: "Guitar"}, {ID: "11", Name: "DJ"}},
	}
	cases := []struct {
		spec string
		ok   bool
	}{
		{"hasRole:dj", true},
		{"hasRole:Bass,Guitar", true},
		{"hasRole:10", true},
		{"hasRole:Drums", false},
	}
	for _, c := range cases {
		t.Run(c.spec, func(t *testing.T) {
			req, specs := request("play", c.spec)
			reached, err := f.run(req, specs)
			if reached != c.ok {
				t.Errorf("wrong result: want %t, got %t (%v)", c.ok, reached, err)
			}
		})
	}
	req, specs := request("play", "hasRole:DJ")
	req.Call.GuildID = ""
	if _, err := f.run(req, specs); reason(err) != pipeline.Unauthorized {
		t.Errorf("role check passed outside a guild: %v", err)
	}
}

func TestValidate(t *testing.T) {
	f := newFixture()
	good := &command.Descriptor{Name: "purge", Middleware: command.MustSpecs("throttle.channel:1,5", "require:text.manage_messages")}
	if err := f.p.Validate(good); err != nil {
		t.Errorf("valid command rejected: %v", err)
	}
	bad := &command.Descriptor{Name: "purge", Middleware: command.MustSpecs("require:text.juggle")}
	var cerr *command.ConfigurationError
	if err := f.p.Validate(bad); !errors.As(err, &cerr) {
		t.Errorf("unknown node accepted: %v", err)
	}
	f.p.Bind(command.KindHasRole, nil)
	unbound := &command.Descriptor{Name: "play", Middleware: command.MustSpecs("hasRole:DJ")}
	if err := f.p.Validate(unbound); !errors.As(err, &cerr) {
		t.Errorf("unbound kind accepted: %v", err)
	}
}
