// Package persist writes batches of modified records to the store,
// isolating records the store rejects so the rest of a batch still lands.
package persist

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/store"
)

// DefaultBatchSize is the number of records sent to the store per call.
const DefaultBatchSize = 5

// Store is the subset of *store.Store the manager writes through.
type Store interface {
	SaveContacts(ctx context.Context, records []*contact.Record, groups []contact.Group) error
	RemoveContact(ctx context.Context, id contact.ID) error
}

// Rejection is a record the store refused.
type Rejection struct {
	Record *contact.Record
	Err    error
}

// Result summarizes a persistence pass.
type Result struct {
	Saved    []*contact.Record
	Rejected []Rejection
	Removed  []contact.ID
}

func (r *Result) merge(o Result) {
	r.Saved = append(r.Saved, o.Saved...)
	r.Rejected = append(r.Rejected, o.Rejected...)
	r.Removed = append(r.Removed, o.Removed...)
}

// Manager persists records in fixed-size chunks.
type Manager struct {
	store     Store
	batchSize int
	log       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithBatchSize sets the chunk size. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithLogger sets the logger for rejections and failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager creates a Manager writing to s.
func NewManager(s Store, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		batchSize: DefaultBatchSize,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Persist saves records restricted to groups (nil for all). Each chunk is
// retried without the records the store rejected until it saves or runs
// empty. Any other store error abandons the chunk. Saved records carry
// their assigned ids.
func (m *Manager) Persist(ctx context.Context, records []*contact.Record, groups []contact.Group) Result {
	var res Result
	for chunk := range slices.Chunk(records, m.batchSize) {
		res.merge(m.persistChunk(ctx, slices.Clone(chunk), groups))
	}
	return res
}

func (m *Manager) persistChunk(ctx context.Context, batch []*contact.Record, groups []contact.Group) Result {
	var res Result
	for len(batch) > 0 {
		err := m.store.SaveContacts(ctx, batch, groups)
		if err == nil {
			res.Saved = append(res.Saved, batch...)
			return res
		}

		var be *store.BatchError
		if !errors.As(err, &be) || len(be.Errors) == 0 {
			m.log.Error("failed to save contacts", "count", len(batch), "error", err)
			for _, rec := range batch {
				res.Rejected = append(res.Rejected, Rejection{Record: rec, Err: err})
			}
			return res
		}

		// Remove from the back so earlier indices stay valid.
		indices := be.Indices()
		slices.Reverse(indices)
		dropped := 0
		for _, i := range indices {
			if i < 0 || i >= len(batch) {
				continue
			}
			rec := batch[i]
			m.log.Warn("contact rejected by store",
				"contact", rec.ID,
				"origin", originID(rec),
				"error", be.Errors[i],
			)
			res.Rejected = append(res.Rejected, Rejection{Record: rec, Err: be.Errors[i]})
			batch = slices.Delete(batch, i, i+1)
			dropped++
		}
		if dropped == 0 {
			m.log.Error("store rejected batch without naming a record", "count", len(batch), "error", err)
			for _, rec := range batch {
				res.Rejected = append(res.Rejected, Rejection{Record: rec, Err: err})
			}
			return res
		}
	}
	return res
}

// Remove deletes each id with its own store call. Failures are logged and
// not retried.
func (m *Manager) Remove(ctx context.Context, ids []contact.ID) []contact.ID {
	var removed []contact.ID
	for _, id := range ids {
		if err := m.store.RemoveContact(ctx, id); err != nil {
			m.log.Warn("failed to remove contact", "contact", id, "error", err)
			continue
		}
		removed = append(removed, id)
	}
	return removed
}

// Apply saves every group of cs with the attribute groups its mask
// touches, then removes ids.
func (m *Manager) Apply(ctx context.Context, cs *ChangeSet, remove []contact.ID) Result {
	var res Result
	if cs != nil {
		for _, g := range cs.Groups() {
			res.merge(m.Persist(ctx, g.Records, change.Groups(g.Mask)))
		}
	}
	res.Removed = append(res.Removed, m.Remove(ctx, remove)...)
	return res
}

func originID(rec *contact.Record) string {
	if rec.Origin == nil {
		return ""
	}
	return rec.Origin.ID
}
