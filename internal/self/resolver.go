// Package self locates, or creates once, the record that represents the
// local user's own provider accounts.
//
// The store owns a "true" self record. The engine keeps its account,
// presence and avatar attributes on a separate record, marked with the
// engine's sync target and aggregated by the true self, so that other
// sources writing to the true self never collide with the engine.
package self

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/store"
)

// ErrUnavailable is returned when the self record cannot be read or
// created. Callers skip the operation that needed it.
var ErrUnavailable = errors.New("self contact unavailable")

// Store is the subset of *store.Store the resolver uses.
type Store interface {
	SelfContactID(ctx context.Context) (contact.ID, error)
	FindIDs(ctx context.Context, f store.Filter) ([]contact.ID, error)
	Contact(ctx context.Context, id contact.ID, groups ...contact.Group) (contact.Record, error)
	SaveContacts(ctx context.Context, records []*contact.Record, groups []contact.Group) error
	SaveRelationship(ctx context.Context, rel contact.Relationship) error
	RemoveRelationship(ctx context.Context, rel contact.Relationship) error
	Aggregators(ctx context.Context, id contact.ID) ([]contact.ID, error)
}

// Resolver finds the engine's self record. The id is cached after the
// first successful resolution.
type Resolver struct {
	store      Store
	syncTarget string
	log        *slog.Logger
	fatal      func(error)

	mu sync.Mutex
	id contact.ID
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithFatal replaces the handler invoked when the new self record cannot
// be tied to the true self. The default logs and exits the process.
func WithFatal(fn func(error)) Option {
	return func(r *Resolver) { r.fatal = fn }
}

// NewResolver creates a resolver for records marked with syncTarget.
func NewResolver(s Store, syncTarget string, opts ...Option) *Resolver {
	r := &Resolver{
		store:      s,
		syncTarget: syncTarget,
		log:        slog.Default(),
	}
	r.fatal = func(err error) {
		r.log.Error("cannot link self contact", "error", err)
		os.Exit(1)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the id of the engine's self record, creating and
// linking it on first use.
func (r *Resolver) Resolve(ctx context.Context) (contact.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.id != "" {
		return r.id, nil
	}

	trueSelf, err := r.store.SelfContactID(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	ids, err := r.store.FindIDs(ctx, store.Filter{SyncTarget: r.syncTarget, AggregatedBy: trueSelf})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(ids) > 0 {
		if len(ids) > 1 {
			r.log.Warn("multiple self contacts found, using the first", "count", len(ids), "contact", ids[0])
		}
		r.id = ids[0]
		return r.id, nil
	}

	rec := &contact.Record{SyncTarget: r.syncTarget}
	if err := r.store.SaveContacts(ctx, []*contact.Record{rec}, nil); err != nil {
		return "", fmt.Errorf("%w: create: %w", ErrUnavailable, err)
	}
	r.log.Info("created self contact", "contact", rec.ID)

	rel := contact.Relationship{First: trueSelf, Second: rec.ID, Type: contact.Aggregates}
	if err := r.store.SaveRelationship(ctx, rel); err != nil {
		r.fatal(fmt.Errorf("aggregate %s by %s: %w", rec.ID, trueSelf, err))
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	// Backends that aggregate on their own may have put the new record
	// into a fresh aggregate. Only the true self may hold it.
	aggs, err := r.store.Aggregators(ctx, rec.ID)
	if err != nil {
		r.log.Warn("cannot list aggregators of self contact", "contact", rec.ID, "error", err)
	}
	for _, agg := range aggs {
		if agg == trueSelf {
			continue
		}
		stray := contact.Relationship{First: agg, Second: rec.ID, Type: contact.Aggregates}
		if err := r.store.RemoveRelationship(ctx, stray); err != nil {
			r.log.Warn("cannot remove stray aggregation of self contact", "aggregate", agg, "error", err)
		}
	}

	r.id = rec.ID
	return r.id, nil
}

// Record returns the self record restricted to the groups the engine
// owns.
func (r *Resolver) Record(ctx context.Context) (contact.Record, error) {
	id, err := r.Resolve(ctx)
	if err != nil {
		return contact.Record{}, err
	}
	rec, err := r.store.Contact(ctx, id, contact.SelfGroups...)
	if err != nil {
		return contact.Record{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return rec, nil
}

// Save writes rec restricted to the groups the engine owns on self.
func (r *Resolver) Save(ctx context.Context, rec *contact.Record) error {
	if err := r.store.SaveContacts(ctx, []*contact.Record{rec}, contact.SelfGroups); err != nil {
		return fmt.Errorf("save self contact: %w", err)
	}
	return nil
}

// Reset drops the cached id.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = ""
}
