package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/diff"
	"github.com/roach88/rosterd/internal/persist"
	"github.com/roach88/rosterd/internal/provider"
	"github.com/roach88/rosterd/internal/reconcile"
	"github.com/roach88/rosterd/internal/self"
	"github.com/roach88/rosterd/internal/store"
	"github.com/roach88/rosterd/internal/testutil"
)

const acctPath = "/acct/jabber/ann"

type harness struct {
	engine *Engine
	store  *store.Store
	clock  *testutil.FakeClock
	logs   *bytes.Buffer
}

func setupEngine(t *testing.T) *harness {
	t.Helper()
	clk := testutil.NewFakeClock()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"),
		store.WithIDGenerator(testutil.NewSequenceGenerator("id")),
		store.WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logs := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d := diff.New(diff.WithClock(clk.Now), diff.WithLogger(log))
	sr := self.NewResolver(st, d.SyncTarget(), self.WithLogger(log),
		self.WithFatal(func(err error) { t.Errorf("fatal: %v", err) }))
	rec := reconcile.New(st, sr, d, persist.NewManager(st, persist.WithLogger(log)), reconcile.WithLogger(log))

	e := New(rec, WithClock(clk), WithLogger(log), WithCoalescing(250*time.Millisecond, 2*time.Second))
	return &harness{engine: e, store: st, clock: clk, logs: logs}
}

func testAccount(ready bool, contacts ...provider.Contact) provider.Account {
	return provider.Account{
		Path:           acctPath,
		Protocol:       "jabber",
		NormalizedName: "ann@example.com",
		Enabled:        true,
		Ready:          ready,
		HasRoster:      true,
		Presence:       provider.Presence{Type: provider.PresenceAvailable},
		Contacts:       contacts,
	}
}

func bob(state provider.PresenceType) provider.Contact {
	return provider.Contact{
		ID:       "bob@example.com",
		Alias:    "Bob Stone",
		Presence: provider.Presence{Type: state},
	}
}

func (h *harness) presence(t *testing.T, id string) (contact.PresenceState, bool) {
	t.Helper()
	addr := string(testAccount(true).ContactAddress(id))
	found, err := h.store.FindByOrigin(t.Context(), diff.DefaultSyncTarget, []string{addr})
	require.NoError(t, err)
	rec, ok := found[addr]
	if !ok || len(rec.Presences) == 0 {
		return "", false
	}
	return rec.Presences[0].State, true
}

func TestEngine_Enqueue_AfterStop(t *testing.T) {
	h := setupEngine(t)
	assert.True(t, h.engine.Enqueue(AccountReady(acctPath)))
	assert.Equal(t, 1, h.engine.QueueLen())

	h.engine.Stop()
	assert.False(t, h.engine.Enqueue(AccountReady(acctPath)))
}

func TestEngine_Run_StopsOnContext(t *testing.T) {
	h := setupEngine(t)
	ctx, cancel := context.WithCancel(t.Context())

	errCh := make(chan error, 1)
	go func() { errCh <- h.engine.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop on context cancellation")
	}
}

func TestEngine_Run_ProcessesEventsAndStops(t *testing.T) {
	h := setupEngine(t)

	errCh := make(chan error, 1)
	go func() { errCh <- h.engine.Run(t.Context()) }()

	h.engine.Enqueue(AccountAdded(testAccount(true, bob(provider.PresenceAway))))
	h.engine.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	state, ok := h.presence(t, "bob@example.com")
	require.True(t, ok)
	assert.Equal(t, contact.PresenceAway, state)
}

func TestEngine_Run_FlushesWhenTimerFires(t *testing.T) {
	h := setupEngine(t)
	h.engine.Enqueue(AccountAdded(testAccount(true, bob(provider.PresenceAway))))
	require.NoError(t, h.engine.Drain(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go h.engine.Run(ctx)

	h.engine.Enqueue(ContactChanged(acctPath, bob(provider.PresenceBusy), change.Of(change.Presence)))
	require.Eventually(t, func() bool { return h.clock.Pending() == 1 }, time.Second, time.Millisecond)

	before := h.engine.Totals().Saved
	h.clock.Advance(250 * time.Millisecond)
	require.Eventually(t, func() bool { return h.engine.Totals().Saved > before }, time.Second, time.Millisecond)
}

func TestEngine_CoalescesContactChanges(t *testing.T) {
	h := setupEngine(t)
	ctx := t.Context()
	h.engine.Enqueue(AccountAdded(testAccount(true, bob(provider.PresenceAway))))
	require.NoError(t, h.engine.Drain(ctx))
	saved := h.engine.Totals().Saved

	for _, s := range []provider.PresenceType{provider.PresenceBusy, provider.PresenceAvailable, provider.PresenceBusy} {
		h.engine.Enqueue(ContactChanged(acctPath, bob(s), change.Of(change.Presence)))
	}
	require.NoError(t, h.engine.Drain(ctx))
	assert.Equal(t, 1, h.engine.Pending())

	h.clock.Advance(200 * time.Millisecond)
	assert.False(t, h.engine.Tick(ctx))

	h.clock.Advance(50 * time.Millisecond)
	assert.True(t, h.engine.Tick(ctx))
	assert.Zero(t, h.engine.Pending())
	assert.Equal(t, saved+1, h.engine.Totals().Saved, "three notifications, one write")

	state, _ := h.presence(t, "bob@example.com")
	assert.Equal(t, contact.PresenceBusy, state)
}

func TestEngine_BacklogFlushesAtMaxWait(t *testing.T) {
	h := setupEngine(t)
	ctx := t.Context()
	h.engine.Enqueue(AccountAdded(testAccount(true, bob(provider.PresenceAway))))
	require.NoError(t, h.engine.Drain(ctx))
	saved := h.engine.Totals().Saved

	h.engine.Enqueue(ContactChanged(acctPath, bob(provider.PresenceBusy), change.Of(change.Presence)))
	require.NoError(t, h.engine.Drain(ctx))
	require.Equal(t, 1, h.engine.Pending())

	// The max wait runs out while events keep arriving.
	h.clock.Advance(2 * time.Second)
	for range 3 {
		h.engine.Enqueue(AccountReady(acctPath))
	}
	require.NoError(t, h.engine.Drain(ctx))

	assert.Zero(t, h.engine.Pending())
	assert.Greater(t, h.engine.Totals().Saved, saved)
	state, _ := h.presence(t, "bob@example.com")
	assert.Equal(t, contact.PresenceBusy, state)
}

func TestEngine_DefersEventsUntilReady(t *testing.T) {
	h := setupEngine(t)
	ctx := t.Context()

	h.engine.Enqueue(AccountAdded(testAccount(false, bob(provider.PresenceAway))))
	h.engine.Enqueue(ContactChanged(acctPath, bob(provider.PresenceBusy), change.Of(change.Presence)))
	require.NoError(t, h.engine.Drain(ctx))

	assert.Equal(t, StateCreating, h.engine.State(acctPath))
	assert.Zero(t, h.engine.Pending())
	_, stored := h.presence(t, "bob@example.com")
	assert.False(t, stored)

	h.engine.Enqueue(AccountReady(acctPath))
	require.NoError(t, h.engine.Drain(ctx))
	assert.Equal(t, StateReady, h.engine.State(acctPath))
	assert.Equal(t, 1, h.engine.Pending(), "deferred change replayed")

	h.engine.Flush(ctx)
	state, ok := h.presence(t, "bob@example.com")
	require.True(t, ok)
	assert.Equal(t, contact.PresenceBusy, state)

	// Ready is one-shot.
	h.engine.Enqueue(AccountReady(acctPath))
	require.NoError(t, h.engine.Drain(ctx))
	assert.Zero(t, h.engine.Totals().Errors)
}

func TestEngine_RemoveCancelsPendingUpdates(t *testing.T) {
	h := setupEngine(t)
	ctx := t.Context()
	h.engine.Enqueue(AccountAdded(testAccount(true, bob(provider.PresenceAway))))
	h.engine.Enqueue(ContactChanged(acctPath, bob(provider.PresenceBusy), change.Of(change.Presence)))
	h.engine.Enqueue(AccountRemoved(acctPath))
	require.NoError(t, h.engine.Drain(ctx))

	assert.Zero(t, h.engine.Pending())
	assert.Equal(t, StateUnknown, h.engine.State(acctPath))
	assert.Equal(t, 1, h.engine.Totals().Removed)
	_, ok := h.presence(t, "bob@example.com")
	assert.False(t, ok)
}

func TestEngine_UnknownAccountIsLoggedAndSkipped(t *testing.T) {
	h := setupEngine(t)
	h.engine.Enqueue(RosterRemoved("/acct/nowhere", "x"))
	h.engine.Enqueue(AccountAdded(testAccount(true)))
	require.NoError(t, h.engine.Drain(t.Context()))

	assert.Equal(t, 1, h.engine.Totals().Errors)
	assert.Contains(t, h.logs.String(), string(ErrCodeAccountNotFound))
	assert.Equal(t, StateReady, h.engine.State(acctPath))
}

func TestEngine_DuplicateAccountAdded(t *testing.T) {
	h := setupEngine(t)
	h.engine.Enqueue(AccountAdded(testAccount(true)))
	h.engine.Enqueue(AccountAdded(testAccount(true, bob(provider.PresenceAway))))
	require.NoError(t, h.engine.Drain(t.Context()))

	assert.Contains(t, h.logs.String(), string(ErrCodeAccountExists))
	_, ok := h.presence(t, "bob@example.com")
	assert.True(t, ok, "the second announcement still syncs the roster")
}

func TestEngine_Sync(t *testing.T) {
	h := setupEngine(t)
	ctx := t.Context()
	other := testAccount(false)
	other.Path = "/acct/irc/ann"

	h.engine.Enqueue(Sync([]provider.Account{testAccount(true, bob(provider.PresenceAway)), other}))
	require.NoError(t, h.engine.Drain(ctx))
	assert.Equal(t, StateReady, h.engine.State(acctPath))
	assert.Equal(t, StateCreating, h.engine.State(other.Path))

	h.engine.Enqueue(Sync(nil))
	require.NoError(t, h.engine.Drain(ctx))
	assert.Equal(t, StateUnknown, h.engine.State(acctPath))
	_, ok := h.presence(t, "bob@example.com")
	assert.False(t, ok)
}

func TestEngine_RosterEvents(t *testing.T) {
	h := setupEngine(t)
	ctx := t.Context()
	h.engine.Enqueue(AccountAdded(testAccount(true)))
	h.engine.Enqueue(RosterAdded(acctPath, bob(provider.PresenceAway)))
	require.NoError(t, h.engine.Drain(ctx))

	_, ok := h.presence(t, "bob@example.com")
	require.True(t, ok)
	acct, _ := h.engine.Account(acctPath)
	assert.Len(t, acct.Contacts, 1)

	h.engine.Enqueue(RosterRemoved(acctPath, "bob@example.com"))
	require.NoError(t, h.engine.Drain(ctx))
	_, ok = h.presence(t, "bob@example.com")
	assert.False(t, ok)
	acct, _ = h.engine.Account(acctPath)
	assert.Empty(t, acct.Contacts)
}

func TestEngine_AccountDisabled(t *testing.T) {
	h := setupEngine(t)
	ctx := t.Context()
	h.engine.Enqueue(AccountAdded(testAccount(true, bob(provider.PresenceAway))))

	disabled := testAccount(true)
	disabled.Enabled = false
	h.engine.Enqueue(AccountUpdated(disabled, change.AccountOf(change.AccountEnabled)))
	require.NoError(t, h.engine.Drain(ctx))

	state, ok := h.presence(t, "bob@example.com")
	require.True(t, ok)
	assert.Equal(t, contact.PresenceUnknown, state)
	assert.Equal(t, StateReady, h.engine.State(acctPath))
}

func TestRuntimeError_Classification(t *testing.T) {
	err := NewAccountNotFoundError(EventRosterAdded, "/acct/x")
	assert.True(t, IsAccountNotFound(err))
	assert.False(t, IsAccountExists(err))
	assert.Contains(t, err.Error(), "account=/acct/x")

	wrapped := errors.Join(errors.New("context"), NewAccountExistsError("/acct/x"))
	assert.True(t, IsAccountExists(wrapped))

	e := &Engine{}
	got := e.wrap(AccountReady("/acct/x"), self.ErrUnavailable)
	assert.True(t, IsSelfUnavailable(got))
	assert.ErrorIs(t, got, self.ErrUnavailable)
}
