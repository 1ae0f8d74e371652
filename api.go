package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof" // register handlers
	"regexp"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zephyrtronium/warden/command"
	"github.com/zephyrtronium/warden/guildcfg"
)

func (w *Warden) api(ctx context.Context, listen string, mux *http.ServeMux, metrics []prometheus.Collector) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(
		collectors.WithGoCollectorMemStatsMetricsDisabled(),
		collectors.WithGoCollectorRuntimeMetrics(
			collectors.GoRuntimeMetricsRule{
				Matcher: regexp.MustCompile(`^(/gc/gogc:percent|/gc/gomemlimit:bytes|/gc/heap/allocs:bytes|/gc/heap/goal:bytes|/memory/classes/total:bytes|/sched/gomaxprocs:threads|/sched/goroutines:goroutines|/sched/latencies:seconds)$`),
			},
		),
	))
	reg.MustRegister(metrics...)
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, opts))
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	w.routes(mux)
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("couldn't start API server: %w", err)
	}
	srv := http.Server{
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.InfoContext(ctx, "HTTP API server", slog.Any("addr", l.Addr()))
		err := srv.Serve(l)
		if err == http.ErrServerClosed {
			return
		}
		slog.ErrorContext(ctx, "HTTP API server closed", slog.Any("err", err))
	}()
	<-ctx.Done()
	// The context is now done, so it is obviously the wrong choice for
	// managing the shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// routes adds the administration API to mux.
func (w *Warden) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/guild/{id}", w.apiGuild)
	mux.HandleFunc("PATCH /api/guild/{id}", w.apiGuildUpdate)
	mux.HandleFunc("DELETE /api/guild/{id}/cache", w.apiGuildInvalidate)
	mux.HandleFunc("GET /api/commands", w.apiCommands)
	mux.HandleFunc("POST /api/commands/{name}/reload", w.apiReload)
}

func jsonerror(w http.ResponseWriter, status int, msg string) {
	v := struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{
		Error:  msg,
		Status: status,
	}
	b, err := json.Marshal(&v)
	if err != nil {
		panic(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func jsonwrite(ctx context.Context, log *slog.Logger, w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(b); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
}

func apilog(r *http.Request, api string) *slog.Logger {
	log := slog.With(slog.String("api", api), slog.Any("trace", uuid.New()))
	log.InfoContext(r.Context(), "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	return log
}

type apiGuild struct {
	ID          string            `json:"id"`
	Owner       string            `json:"owner"`
	Name        string            `json:"name"`
	Prefixes    map[string]string `json:"prefixes"`
	Modules     map[string]bool   `json:"modules"`
	Aliases     map[string]string `json:"aliases"`
	LeftAt      string            `json:"left_at,omitzero"`
	Placeholder bool              `json:"placeholder,omitzero"`
}

func (w *Warden) apiGuild(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := apilog(r, "guild")
	defer log.InfoContext(ctx, "done")
	id := r.PathValue("id")
	fresh := r.FormValue("fresh") != ""
	cfg, err := w.robo.Guilds.Get(ctx, id, fresh)
	switch {
	case err == nil: // do nothing
	case errors.Is(err, guildcfg.ErrUnknownGuild):
		log.WarnContext(ctx, "unknown guild", slog.String("guild", id))
		jsonerror(rw, http.StatusNotFound, "unknown guild")
		return
	default:
		log.ErrorContext(ctx, "couldn't get guild", slog.String("guild", id), slog.Any("err", err))
		jsonerror(rw, http.StatusInternalServerError, err.Error())
		return
	}
	u := apiGuild{
		ID:          cfg.ID,
		Owner:       cfg.Owner,
		Name:        cfg.Name,
		Prefixes:    cfg.Prefixes,
		Modules:     cfg.Modules,
		Aliases:     cfg.Aliases,
		Placeholder: cfg.Placeholder,
	}
	if !cfg.LeftAt.IsZero() {
		u.LeftAt = cfg.LeftAt.Format(time.RFC3339)
	}
	jsonwrite(ctx, log, rw, &u)
}

// apiGuildPatch is the body of a guild update. Empty strings in maps remove
// the respective entries.
type apiGuildPatch struct {
	Prefixes map[string]string `json:"prefixes"`
	Modules  map[string]bool   `json:"modules"`
	Aliases  map[string]string `json:"aliases"`
}

func (w *Warden) apiGuildUpdate(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := apilog(r, "guild-update")
	defer log.InfoContext(ctx, "done")
	id := r.PathValue("id")
	var p apiGuildPatch
	if err := json.UnmarshalRead(r.Body, &p); err != nil {
		log.WarnContext(ctx, "bad request", slog.Any("err", err))
		jsonerror(rw, http.StatusBadRequest, "invalid guild update")
		return
	}
	f := guildcfg.Fields{Prefixes: p.Prefixes, Modules: p.Modules, Aliases: p.Aliases}
	if err := w.robo.Guilds.Update(ctx, id, f); err != nil {
		log.ErrorContext(ctx, "couldn't update guild", slog.String("guild", id), slog.Any("err", err))
		jsonerror(rw, http.StatusInternalServerError, err.Error())
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Warden) apiGuildInvalidate(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := apilog(r, "guild-invalidate")
	defer log.InfoContext(ctx, "done")
	w.robo.Guilds.Invalidate(r.PathValue("id"))
	rw.WriteHeader(http.StatusNoContent)
}

type apiCommand struct {
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Triggers   []string `json:"triggers"`
	Middleware []string `json:"middleware"`
	AllowDM    bool     `json:"allow_dm,omitzero"`
	Hidden     bool     `json:"hidden,omitzero"`
}

func (w *Warden) apiCommands(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := apilog(r, "commands")
	defer log.InfoContext(ctx, "done")
	cmds := w.robo.Registry.Commands()
	u := struct {
		Data   []apiCommand `json:"data"`
		Status int          `json:"status"`
	}{
		Data:   make([]apiCommand, 0, len(cmds)),
		Status: http.StatusOK,
	}
	for _, d := range cmds {
		c := apiCommand{
			Name:       d.Name,
			Category:   d.Category,
			Triggers:   d.Triggers,
			Middleware: make([]string, 0, len(d.Middleware)),
			AllowDM:    d.Options.AllowDM,
			Hidden:     d.Options.IgnoreHelpMenu,
		}
		for _, s := range d.Middleware {
			c.Middleware = append(c.Middleware, s.String())
		}
		u.Data = append(u.Data, c)
	}
	jsonwrite(ctx, log, rw, &u)
}

func (w *Warden) apiReload(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := apilog(r, "reload")
	defer log.InfoContext(ctx, "done")
	name := r.PathValue("name")
	err := w.robo.Registry.Reload(name)
	switch {
	case err == nil: // do nothing
	case errors.Is(err, command.ErrNotFound):
		log.WarnContext(ctx, "no such command", slog.String("command", name))
		jsonerror(rw, http.StatusNotFound, "no such command")
		return
	default:
		log.ErrorContext(ctx, "reload failed", slog.String("command", name), slog.Any("err", err))
		jsonerror(rw, http.StatusUnprocessableEntity, err.Error())
		return
	}
	log.InfoContext(ctx, "reloaded command", slog.String("command", name))
	rw.WriteHeader(http.StatusNoContent)
}
