package self

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/store"
	"github.com/roach88/rosterd/internal/testutil"
)

func openStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	opts = append([]store.Option{store.WithIDGenerator(testutil.NewSequenceGenerator("id"))}, opts...)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolve_CreatesOnce(t *testing.T) {
	s := openStore(t)
	r := NewResolver(s, "telepathy", WithFatal(func(err error) { t.Fatalf("fatal: %v", err) }))

	id, err := r.Resolve(t.Context())
	require.NoError(t, err)

	again, err := r.Resolve(t.Context())
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// A fresh resolver finds the stored record instead of creating another.
	fresh := NewResolver(s, "telepathy")
	found, err := fresh.Resolve(t.Context())
	require.NoError(t, err)
	assert.Equal(t, id, found)

	ids, err := s.FindIDs(t.Context(), store.Filter{SyncTarget: "telepathy"})
	require.NoError(t, err)
	assert.Equal(t, []contact.ID{id}, ids)

	trueSelf, err := s.SelfContactID(t.Context())
	require.NoError(t, err)
	aggs, err := s.Aggregators(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, []contact.ID{trueSelf}, aggs)
}

func TestResolve_RemovesStrayAggregates(t *testing.T) {
	s := openStore(t, store.WithAutoAggregate(true))
	r := NewResolver(s, "telepathy")

	id, err := r.Resolve(t.Context())
	require.NoError(t, err)

	trueSelf, err := s.SelfContactID(t.Context())
	require.NoError(t, err)
	aggs, err := s.Aggregators(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, []contact.ID{trueSelf}, aggs)

	ids, err := s.FindIDs(t.Context(), store.Filter{SyncTarget: contact.SyncTargetAggregate})
	require.NoError(t, err)
	assert.Empty(t, ids, "the stray aggregate is pruned once empty")
}

func TestResolve_MultipleTakesFirst(t *testing.T) {
	s := openStore(t)
	trueSelf, err := s.SelfContactID(t.Context())
	require.NoError(t, err)
	for range 2 {
		rec := &contact.Record{SyncTarget: "telepathy"}
		require.NoError(t, s.SaveContacts(t.Context(), []*contact.Record{rec}, nil))
		require.NoError(t, s.SaveRelationship(t.Context(), contact.Relationship{First: trueSelf, Second: rec.ID, Type: contact.Aggregates}))
	}

	var buf bytes.Buffer
	r := NewResolver(s, "telepathy", WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	id, err := r.Resolve(t.Context())
	require.NoError(t, err)
	assert.Equal(t, contact.ID("id-0002"), id)
	assert.Contains(t, buf.String(), "multiple self contacts")
}

type failingStore struct {
	*store.Store
	selfErr error
	relErr  error
}

func (f failingStore) SelfContactID(ctx context.Context) (contact.ID, error) {
	if f.selfErr != nil {
		return "", f.selfErr
	}
	return f.Store.SelfContactID(ctx)
}

func (f failingStore) SaveRelationship(ctx context.Context, rel contact.Relationship) error {
	if f.relErr != nil {
		return f.relErr
	}
	return f.Store.SaveRelationship(ctx, rel)
}

func TestResolve_Unavailable(t *testing.T) {
	s := failingStore{Store: openStore(t), selfErr: errors.New("locked")}
	r := NewResolver(s, "telepathy")

	_, err := r.Resolve(t.Context())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResolve_RelationshipFailureIsFatal(t *testing.T) {
	s := failingStore{Store: openStore(t), relErr: errors.New("constraint")}
	var fatal error
	r := NewResolver(s, "telepathy", WithFatal(func(err error) { fatal = err }))

	_, err := r.Resolve(t.Context())
	assert.ErrorIs(t, err, ErrUnavailable)
	require.Error(t, fatal)
}

func TestRecordAndSave(t *testing.T) {
	s := openStore(t)
	r := NewResolver(s, "telepathy")

	rec, err := r.Record(t.Context())
	require.NoError(t, err)
	rec.Nicknames = []contact.Nickname{{Value: "me"}}
	rec.Emails = []contact.EmailAddress{{Address: "ignored@example.com"}}
	require.NoError(t, r.Save(t.Context(), &rec))

	got, err := s.Contact(t.Context(), rec.ID)
	require.NoError(t, err)
	require.Len(t, got.Nicknames, 1)
	assert.Empty(t, got.Emails, "self writes are restricted to engine-owned groups")
}
