package reconcile

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rosterd/internal/address"
	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/diff"
	"github.com/roach88/rosterd/internal/persist"
	"github.com/roach88/rosterd/internal/provider"
	"github.com/roach88/rosterd/internal/self"
	"github.com/roach88/rosterd/internal/store"
	"github.com/roach88/rosterd/internal/testutil"
)

const jabber = "/acct/jabber/ann"

type fixture struct {
	store *store.Store
	self  *self.Resolver
	rec   *Reconciler
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewFakeClock()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"),
		store.WithIDGenerator(testutil.NewSequenceGenerator("id")),
		store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	buf := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d := diff.New(diff.WithClock(clock.Now), diff.WithLogger(log))
	sr := self.NewResolver(st, d.SyncTarget(), self.WithLogger(log),
		self.WithFatal(func(err error) { t.Fatalf("fatal: %v", err) }))
	m := persist.NewManager(st, persist.WithLogger(log))
	return &fixture{
		store: st,
		self:  sr,
		rec:   New(st, sr, d, m, WithLogger(log)),
		logs:  buf,
	}
}

func bob() provider.Contact {
	return provider.Contact{
		ID:       "bob@example.com",
		Alias:    "Bob Stone",
		Presence: provider.Presence{Type: provider.PresenceAway, Message: "lunch"},
	}
}

func carol() provider.Contact {
	return provider.Contact{
		ID:       "carol@example.com",
		Alias:    "Carol",
		Presence: provider.Presence{Type: provider.PresenceAvailable},
	}
}

func onlineAccount(contacts ...provider.Contact) provider.Account {
	return provider.Account{
		Path:           jabber,
		Protocol:       "jabber",
		DisplayName:    "ann@example.com",
		NormalizedName: "ann@example.com",
		Enabled:        true,
		Ready:          true,
		HasRoster:      true,
		Presence:       provider.Presence{Type: provider.PresenceAvailable},
		Contacts:       contacts,
	}
}

// stored returns the record whose origin is addr.
func (f *fixture) stored(t *testing.T, addr address.Address) (contact.Record, bool) {
	t.Helper()
	found, err := f.store.FindByOrigin(t.Context(), diff.DefaultSyncTarget, []string{string(addr)})
	require.NoError(t, err)
	rec, ok := found[string(addr)]
	return rec, ok
}

func (f *fixture) count(t *testing.T, path string) int {
	t.Helper()
	ids, err := f.store.FindIDs(t.Context(), store.Filter{SyncTarget: diff.DefaultSyncTarget, OriginGroup: path})
	require.NoError(t, err)
	return len(ids)
}

func TestSyncAccounts_CreatesAccountAndRoster(t *testing.T) {
	f := newFixture(t)
	acct := onlineAccount(bob(), carol())

	res, err := f.rec.SyncAccounts(t.Context(), []provider.Account{acct})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Saved)
	assert.Empty(t, res.Deferred)

	rec, ok := f.stored(t, acct.ContactAddress("bob@example.com"))
	require.True(t, ok)
	require.Len(t, rec.Presences, 1)
	assert.Equal(t, contact.PresenceAway, rec.Presences[0].State)
	assert.Equal(t, "lunch", rec.Presences[0].Message)
	require.NotNil(t, rec.Name)
	assert.Equal(t, "Bob", rec.Name.First)

	me, err := f.self.Record(t.Context())
	require.NoError(t, err)
	require.NotNil(t, me.AccountByPath(jabber))
	assert.Equal(t, "ann@example.com", me.AccountByPath(jabber).AccountURI)
}

func TestSyncAccounts_SecondPassWritesNothing(t *testing.T) {
	f := newFixture(t)
	accounts := []provider.Account{onlineAccount(bob(), carol())}

	_, err := f.rec.SyncAccounts(t.Context(), accounts)
	require.NoError(t, err)

	res, err := f.rec.SyncAccounts(t.Context(), accounts)
	require.NoError(t, err)
	assert.Zero(t, res.Saved)
	assert.Zero(t, res.Removed)
}

func TestSyncAccounts_DefersAccountsNotReady(t *testing.T) {
	f := newFixture(t)
	acct := onlineAccount(bob())
	acct.Ready = false

	res, err := f.rec.SyncAccounts(t.Context(), []provider.Account{acct})
	require.NoError(t, err)
	assert.Equal(t, []string{jabber}, res.Deferred)
	assert.Zero(t, f.count(t, jabber))
}

func TestSyncAccounts_RemovesUnlistedAccountsAndStaleContacts(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.SyncAccounts(t.Context(), []provider.Account{onlineAccount(bob(), carol())})
	require.NoError(t, err)

	res, err := f.rec.SyncAccounts(t.Context(), []provider.Account{onlineAccount(bob())})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, f.count(t, jabber))

	res, err = f.rec.SyncAccounts(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Zero(t, f.count(t, jabber))

	me, err := f.self.Record(t.Context())
	require.NoError(t, err)
	assert.Nil(t, me.AccountByPath(jabber))
}

func TestSyncAccounts_HiddenContactsAreSkipped(t *testing.T) {
	f := newFixture(t)
	hidden := carol()
	hidden.Hidden = true

	_, err := f.rec.SyncAccounts(t.Context(), []provider.Account{onlineAccount(bob(), hidden)})
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, jabber))
}

func TestUpdateAccount_DisabledMarksContactsOffline(t *testing.T) {
	f := newFixture(t)
	acct := onlineAccount(bob())
	_, err := f.rec.CreateAccount(t.Context(), acct)
	require.NoError(t, err)

	acct.Enabled = false
	acct.HasRoster = false
	res, err := f.rec.UpdateAccount(t.Context(), acct, change.AccountOf(change.AccountEnabled))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)

	rec, ok := f.stored(t, acct.ContactAddress("bob@example.com"))
	require.True(t, ok)
	assert.Equal(t, contact.PresenceUnknown, rec.Presences[0].State)
	assert.False(t, rec.Origin.Enabled)
}

func TestUpdateAccount_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.UpdateAccount(t.Context(), onlineAccount(), change.AccountAll)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestUpdateAccount_KeepsAvatarUntilFetched(t *testing.T) {
	f := newFixture(t)
	withAvatar := bob()
	withAvatar.AvatarPath = "/cache/bob.png"
	acct := onlineAccount(withAvatar)
	_, err := f.rec.CreateAccount(t.Context(), acct)
	require.NoError(t, err)

	// Re-enabled: the roster arrives before the avatars.
	acct = onlineAccount(bob())
	_, err = f.rec.UpdateAccount(t.Context(), acct, change.AccountOf(change.AccountEnabled))
	require.NoError(t, err)

	rec, ok := f.stored(t, acct.ContactAddress("bob@example.com"))
	require.True(t, ok)
	require.Len(t, rec.Avatars, 1)
	assert.Equal(t, "file:///cache/bob.png", rec.Avatars[0].ImageURL)
}

func TestRemoveAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.CreateAccount(t.Context(), onlineAccount(bob(), carol()))
	require.NoError(t, err)

	res, err := f.rec.RemoveAccount(t.Context(), jabber)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
	assert.Zero(t, f.count(t, jabber))

	_, err = f.rec.RemoveAccount(t.Context(), jabber)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSyncRoster(t *testing.T) {
	f := newFixture(t)
	acct := onlineAccount(bob())
	_, err := f.rec.CreateAccount(t.Context(), acct)
	require.NoError(t, err)

	acct = onlineAccount(carol())
	res, err := f.rec.SyncRoster(t.Context(), acct,
		[]string{"carol@example.com", "/acct/irc/other!dave"},
		[]string{"bob@example.com", "nobody@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)
	assert.Equal(t, 1, res.Removed)

	_, ok := f.stored(t, acct.ContactAddress("bob@example.com"))
	assert.False(t, ok)
	_, ok = f.stored(t, acct.ContactAddress("carol@example.com"))
	assert.True(t, ok)

	logs := f.logs.String()
	assert.Contains(t, logs, "skipping roster entry")
	assert.Contains(t, logs, "no contact found for removed roster entry")
}

func TestAccountContacts_WhileOffline(t *testing.T) {
	f := newFixture(t)
	acct := onlineAccount()
	_, err := f.rec.CreateAccount(t.Context(), acct)
	require.NoError(t, err)
	acct.HasRoster = false

	res, err := f.rec.CreateAccountContacts(t.Context(), acct, []string{"bob@example.com", "carol@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Saved)

	// Creating again leaves existing records alone.
	res, err = f.rec.CreateAccountContacts(t.Context(), acct, []string{"bob@example.com"})
	require.NoError(t, err)
	assert.Zero(t, res.Saved)

	res, err = f.rec.RemoveAccountContacts(t.Context(), acct, []string{"bob@example.com", "missing@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, f.count(t, jabber))
}

func TestUpdateContacts(t *testing.T) {
	f := newFixture(t)
	acct := onlineAccount(bob(), carol())
	_, err := f.rec.CreateAccount(t.Context(), acct)
	require.NoError(t, err)

	busy := bob()
	busy.Presence = provider.Presence{Type: provider.PresenceBusy, Message: "meeting"}
	acct = onlineAccount(busy, carol())
	snapshot := provider.Snapshot{Accounts: []provider.Account{acct}}

	res, err := f.rec.UpdateContacts(t.Context(), snapshot, []Update{
		{Address: acct.ContactAddress("bob@example.com"), Mask: change.Of(change.Presence)},
		{Address: acct.ContactAddress("carol@example.com"), Mask: change.Of(change.Deleted)},
		{Address: address.Resolve("/acct/gone", "x"), Mask: change.Of(change.Presence)},
		{Address: acct.ContactAddress("nobody@example.com"), Mask: change.Of(change.Alias)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)
	assert.Equal(t, 1, res.Removed)

	rec, ok := f.stored(t, acct.ContactAddress("bob@example.com"))
	require.True(t, ok)
	assert.Equal(t, contact.PresenceBusy, rec.Presences[0].State)
	assert.Equal(t, "meeting", rec.Presences[0].Message)
}

func TestUpdateContacts_MissingRecordIsCreated(t *testing.T) {
	f := newFixture(t)
	acct := onlineAccount()
	_, err := f.rec.CreateAccount(t.Context(), acct)
	require.NoError(t, err)

	acct = onlineAccount(bob())
	res, err := f.rec.UpdateContacts(t.Context(), provider.Snapshot{Accounts: []provider.Account{acct}}, []Update{
		{Address: acct.ContactAddress("bob@example.com"), Mask: change.Of(change.Presence)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)
	assert.Contains(t, f.logs.String(), "no stored contact for update")

	rec, ok := f.stored(t, acct.ContactAddress("bob@example.com"))
	require.True(t, ok)
	require.NotEmpty(t, rec.Nicknames)
	assert.Equal(t, "Bob Stone", rec.Nicknames[0].Value)
}

func TestSyncAccount_ReplacesRoster(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.CreateAccount(t.Context(), onlineAccount(bob(), carol()))
	require.NoError(t, err)

	res, err := f.rec.SyncAccount(t.Context(), onlineAccount(carol()))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Zero(t, res.Saved)
	assert.NotContains(t, f.logs.String(), "account already exists")
}

func TestUpdateContacts_ContactNamedPresence(t *testing.T) {
	f := newFixture(t)
	odd := provider.Contact{ID: "presence", Presence: provider.Presence{Type: provider.PresenceAway}}
	acct := onlineAccount(odd)
	_, err := f.rec.CreateAccount(t.Context(), acct)
	require.NoError(t, err)

	odd.Presence = provider.Presence{Type: provider.PresenceBusy}
	acct = onlineAccount(odd)
	res, err := f.rec.UpdateContacts(t.Context(), provider.Snapshot{Accounts: []provider.Account{acct}}, []Update{
		{Address: acct.ContactAddress("presence"), Mask: change.Of(change.Presence)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)

	rec, ok := f.stored(t, acct.ContactAddress("presence"))
	require.True(t, ok)
	require.Len(t, rec.Presences, 1)
	assert.Equal(t, contact.PresenceBusy, rec.Presences[0].State)
}

// recordingSelf counts self saves and the roster size seen at each.
type recordingSelf struct {
	Self
	saves   int
	onSave  func() int
	rosters []int
}

func (s *recordingSelf) Save(ctx context.Context, rec *contact.Record) error {
	s.saves++
	s.rosters = append(s.rosters, s.onSave())
	return s.Self.Save(ctx, rec)
}

func TestSyncAccounts_SavesSelfOnceAfterRosters(t *testing.T) {
	f := newFixture(t)
	rs := &recordingSelf{Self: f.self}
	rs.onSave = func() int { return f.count(t, jabber) }
	d := diff.New(diff.WithClock(testutil.NewFakeClock().Now))
	rec := New(f.store, rs, d, persist.NewManager(f.store))

	_, err := rec.SyncAccounts(t.Context(), []provider.Account{onlineAccount(bob(), carol())})
	require.NoError(t, err)
	assert.Equal(t, 1, rs.saves)
	assert.Equal(t, []int{2}, rs.rosters)

	me, err := f.self.Record(t.Context())
	require.NoError(t, err)
	assert.NotNil(t, me.AccountByPath(jabber))
}
