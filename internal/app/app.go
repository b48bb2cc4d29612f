// Package app wires the attendance engines, their store and their
// collaborators from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/attend/internal/audit"
	"github.com/roach88/attend/internal/config"
	"github.com/roach88/attend/internal/draft"
	"github.com/roach88/attend/internal/engine"
	"github.com/roach88/attend/internal/events"
	"github.com/roach88/attend/internal/gate"
	"github.com/roach88/attend/internal/httpapi"
	"github.com/roach88/attend/internal/metrics"
	"github.com/roach88/attend/internal/store"
)

// Clock is satisfied by every component clock in the module.
type Clock interface {
	Now() time.Time
}

// App holds one fully wired instance.
type App struct {
	Config    *config.Config
	Store     store.KV
	Bus       *events.Bus
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Audit     *audit.Log
	Engine    *engine.Engine
	Drafts    *draft.Drafts
	Autosaver *draft.Autosaver
	Logger    *slog.Logger

	health      func(context.Context) error
	stopMetrics func()
}

type options struct {
	store  store.KV
	clock  Clock
	ids    audit.IDGenerator
	logger *slog.Logger
}

// Option customises New.
type Option func(*options)

// WithStore uses kv instead of opening the configured backend. The App
// still closes it.
func WithStore(kv store.KV) Option { return func(o *options) { o.store = kv } }

// WithClock drives every component from c.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithIDGenerator sets how audit entry ids are made.
func WithIDGenerator(g audit.IDGenerator) Option { return func(o *options) { o.ids = g } }

func WithLogger(logger *slog.Logger) Option { return func(o *options) { o.logger = logger } }

// New opens the store and builds every component. The audit log is reloaded
// from the store.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	kv, health, err := openStore(ctx, cfg.Store, o.store)
	if err != nil {
		return nil, err
	}

	g, err := buildGate(cfg.Permissions)
	if err != nil {
		kv.Close()
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Store:    kv,
		Bus:      events.NewBus(o.logger),
		Registry: prometheus.NewRegistry(),
		Logger:   o.logger,
		health:   health,
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)
	a.stopMetrics = a.Metrics.Subscribe(a.Bus)

	auditOpts := []audit.Option{
		audit.WithCapacity(cfg.Audit.Capacity),
		audit.WithEvents(a.Bus),
		audit.WithLogger(o.logger),
	}
	engineOpts := []engine.Option{
		engine.WithGate(g),
		engine.WithEvents(a.Bus),
		engine.WithLogger(o.logger),
	}
	draftOpts := []draft.Option{
		draft.WithEvents(a.Bus),
		draft.WithLogger(o.logger),
	}
	if o.clock != nil {
		auditOpts = append(auditOpts, audit.WithClock(o.clock))
		engineOpts = append(engineOpts, engine.WithClock(o.clock))
		draftOpts = append(draftOpts, draft.WithClock(o.clock))
	}
	if o.ids != nil {
		auditOpts = append(auditOpts, audit.WithIDGenerator(o.ids))
	}

	a.Audit, err = audit.Open(ctx, kv, auditOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = engine.New(kv, append(engineOpts, engine.WithAudit(a.Audit))...)
	a.Drafts = draft.New(kv, draftOpts...)
	a.Autosaver = draft.NewAutosaver(a.Drafts,
		draft.WithAutosaveLogger(o.logger),
		draft.WithTickTimeout(cfg.Draft.TickTimeout))

	o.logger.Debug("app initialised",
		"backend", cfg.Store.Backend,
		"audit_entries", a.Audit.Len())
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, injected store.KV) (store.KV, func(context.Context) error, error) {
	if injected != nil {
		return injected, nil, nil
	}
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := store.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store %s: %w", cfg.Path, err)
		}
		return s, s.Health, nil
	case config.BackendRedis:
		r, err := store.OpenRedis(ctx, store.RedisOptions{URL: cfg.RedisURL, KeyPrefix: cfg.RedisPrefix})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return r, r.Health, nil
	case config.BackendMemory:
		return store.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// buildGate turns the permission config into a gate. With no rules the
// default decision applies to everything.
func buildGate(cfg config.PermissionsConfig) (engine.PermissionGate, error) {
	if len(cfg.Rules) == 0 {
		if cfg.DefaultAllow {
			return gate.AllowAll{}, nil
		}
		return gate.DenyAll{}, nil
	}
	p, err := gate.NewPolicy(cfg.Rules, cfg.DefaultAllow)
	if err != nil {
		return nil, fmt.Errorf("permissions: %w", err)
	}
	return p, nil
}

// Handler returns the HTTP API for this instance.
func (a *App) Handler() http.Handler {
	d := httpapi.Deps{
		Engine:   a.Engine,
		Audit:    a.Audit,
		Drafts:   a.Drafts,
		Metrics:  a.Metrics,
		Gatherer: a.Registry,
		Health:   a.health,
		Logger:   a.Logger,
	}
	if a.Config.Draft.Autosave {
		d.Autosaver = a.Autosaver
		d.AutosaveInterval = a.Config.Draft.AutosaveInterval
	}
	return httpapi.NewRouter(d)
}

// Serve runs the HTTP API and the autosave scheduler until ctx is cancelled
// or the listener fails, then shuts both down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	a.Autosaver.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("attend listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.Autosaver.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := a.Audit.Flush(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// Close releases the store. Call it after Serve returns.
func (a *App) Close() error {
	if a.stopMetrics != nil {
		a.stopMetrics()
	}
	return a.Store.Close()
}
