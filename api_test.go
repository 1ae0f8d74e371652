package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/commands"
	"github.com/zephyrtronium/warden/guildcfg"
	"github.com/zephyrtronium/warden/guildcfg/guildcfgtest"
)

func testWarden(t *testing.T) (*Warden, *http.ServeMux) {
	t.Helper()
	reg, err := command.NewRegistry((&Config{}).categories())
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(commands.Uptime()); err != nil {
		t.Fatal(err)
	}
	sess := guildcfgtest.Session{"g": {ID: "g", Owner: "o", Name: "guild"}}
	w := &Warden{
		robo: &command.Robot{
			Registry: reg,
			Guilds:   guildcfg.New(guildcfgtest.NewMem(), sess, guildcfg.Options{}),
		},
	}
	mux := http.NewServeMux()
	w.routes(mux)
	return w, mux
}

func serve(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, r)
	return rw
}

func TestAPIGuild(t *testing.T) {
	_, mux := testWarden(t)
	rw := serve(mux, "GET", "/api/guild/g", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("wrong status: want 200, got %d: %s", rw.Code, rw.Body)
	}
	var got apiGuild
	if err := json.Unmarshal(rw.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := apiGuild{
		ID:       "g",
		Owner:    "o",
		Name:     "guild",
		Prefixes: map[string]string{},
		Modules:  map[string]bool{},
		Aliases:  map[string]string{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong guild (-want +got):\n%s", diff)
	}

	rw = serve(mux, "GET", "/api/guild/nowhere", "")
	if rw.Code != http.StatusNotFound {
		t.Errorf("wrong status for unknown guild: want 404, got %d", rw.Code)
	}
}

func TestAPIGuildUpdate(t *testing.T) {
	w, mux := testWarden(t)
	rw := serve(mux, "PATCH", "/api/guild/g", `{"prefixes":{"general":"?"},"aliases":{"up":"uptime"}}`)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("wrong status: want 204, got %d: %s", rw.Code, rw.Body)
	}
	cfg, err := w.robo.Guilds.Get(context.Background(), "g", false)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Prefix("general", "!"); got != "?" {
		t.Errorf("wrong prefix: want ?, got %q", got)
	}
	if got, _ := cfg.Alias("up"); got != "uptime" {
		t.Errorf("wrong alias: want uptime, got %q", got)
	}

	rw = serve(mux, "PATCH", "/api/guild/g", `{"prefixes":`)
	if rw.Code != http.StatusBadRequest {
		t.Errorf("wrong status for bad body: want 400, got %d", rw.Code)
	}
}

func TestAPIGuildInvalidate(t *testing.T) {
	w, mux := testWarden(t)
	if _, err := w.robo.Guilds.Get(context.Background(), "g", false); err != nil {
		t.Fatal(err)
	}
	rw := serve(mux, "DELETE", "/api/guild/g/cache", "")
	if rw.Code != http.StatusNoContent {
		t.Fatalf("wrong status: want 204, got %d", rw.Code)
	}
	if n := w.robo.Guilds.Len(); n != 0 {
		t.Errorf("cache still has %d entries", n)
	}
}

func TestAPICommands(t *testing.T) {
	_, mux := testWarden(t)
	rw := serve(mux, "GET", "/api/commands", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("wrong status: want 200, got %d", rw.Code)
	}
	var got struct {
		Data []apiCommand `json:"data"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	d := commands.Uptime()
	want := []apiCommand{{
		Name:       d.Name,
		Category:   d.Category,
		Triggers:   d.Triggers,
		Middleware: make([]string, 0, len(d.Middleware)),
		AllowDM:    d.Options.AllowDM,
		Hidden:     d.Options.IgnoreHelpMenu,
	}}
	for _, s := range d.Middleware {
		want[0].Middleware = append(want[0].Middleware, s.String())
	}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Errorf("wrong commands (-want +got):\n%s", diff)
	}
}

func TestAPIReload(t *testing.T) {
	_, mux := testWarden(t)
	if rw := serve(mux, "POST", "/api/commands/uptime/reload", ""); rw.Code != http.StatusNoContent {
		t.Errorf("wrong status: want 204, got %d: %s", rw.Code, rw.Body)
	}
	if rw := serve(mux, "POST", "/api/commands/nothing/reload", ""); rw.Code != http.StatusNotFound {
		t.Errorf("wrong status for missing command: want 404, got %d", rw.Code)
	}
}
