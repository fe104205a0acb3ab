// Package app assembles the store, self resolver, reconciler and engine
// from a configuration.
package app

import (
	"fmt"
	"log/slog"

	"github.com/roach88/rosterd/internal/clock"
	"github.com/roach88/rosterd/internal/config"
	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/diff"
	"github.com/roach88/rosterd/internal/engine"
	"github.com/roach88/rosterd/internal/persist"
	"github.com/roach88/rosterd/internal/reconcile"
	"github.com/roach88/rosterd/internal/self"
	"github.com/roach88/rosterd/internal/store"
)

// App holds the wired components. Close releases the store.
type App struct {
	Store      *store.Store
	Self       *self.Resolver
	Reconciler *reconcile.Reconciler
	Engine     *engine.Engine
}

type options struct {
	clock clock.Clock
	ids   contact.IDGenerator
	log   *slog.Logger
	fatal func(error)
}

// Option adjusts how the components are built.
type Option func(*options)

// WithClock drives timestamps and the coalescer from c.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithIDGenerator replaces the UUIDv7 record ids.
func WithIDGenerator(g contact.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithFatal replaces the self resolver's fatal handler.
func WithFatal(fn func(error)) Option {
	return func(o *options) { o.fatal = fn }
}

// Open opens the store at cfg.Store.Path and builds the engine on it.
func Open(cfg config.Config, opts ...Option) (*App, error) {
	o := options{clock: clock.Real{}, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	storeOpts := []store.Option{
		store.WithClock(o.clock.Now),
		store.WithAutoAggregate(cfg.Store.AutoAggregate),
	}
	if o.ids != nil {
		storeOpts = append(storeOpts, store.WithIDGenerator(o.ids))
	}
	st, err := store.Open(cfg.Store.Path, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := diff.New(
		diff.WithClock(o.clock.Now),
		diff.WithLegacyOnline(cfg.Sync.LegacyOnlineProtocols),
		diff.WithSyncTarget(cfg.Sync.SyncTarget),
		diff.WithLogger(o.log),
	)
	selfOpts := []self.Option{self.WithLogger(o.log)}
	if o.fatal != nil {
		selfOpts = append(selfOpts, self.WithFatal(o.fatal))
	}
	sr := self.NewResolver(st, cfg.Sync.SyncTarget, selfOpts...)
	pm := persist.NewManager(st, persist.WithBatchSize(cfg.Sync.BatchSize), persist.WithLogger(o.log))
	rec := reconcile.New(st, sr, d, pm, reconcile.WithLogger(o.log))
	eng := engine.New(rec,
		engine.WithClock(o.clock),
		engine.WithLogger(o.log),
		engine.WithCoalescing(cfg.Sync.Debounce, cfg.Sync.MaxWait),
	)

	o.log.Debug("store opened", "path", cfg.Store.Path, "sync_target", cfg.Sync.SyncTarget)
	return &App{Store: st, Self: sr, Reconciler: rec, Engine: eng}, nil
}

// Close closes the store.
func (a *App) Close() error {
	return a.Store.Close()
}
