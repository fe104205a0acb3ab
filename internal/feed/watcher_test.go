package feed

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rosterd/internal/engine"
)

type recordingSink struct {
	mu     sync.Mutex
	events []engine.Event
}

func (s *recordingSink) Enqueue(ev engine.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSink) types() []engine.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types(s.events)
}

const first = `accounts:
  - path: /acct/jabber/ann
    enabled: true
    ready: true
    has_roster: true
    contacts:
      - id: bob
        presence: {type: away}
`

const second = `accounts:
  - path: /acct/jabber/ann
    enabled: true
    ready: true
    has_roster: true
    contacts:
      - id: bob
        presence: {type: busy}
`

func writeSnapshot(t *testing.T, path, body string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	writeSnapshot(t, path, first)
	sink := &recordingSink{}
	w := NewWatcher(path, sink)

	n, err := w.Reload()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	writeSnapshot(t, path, second)
	_, err = w.Reload()
	require.NoError(t, err)

	// A broken snapshot leaves the current one in place.
	writeSnapshot(t, path, "accounts: [")
	_, err = w.Reload()
	assert.Error(t, err)

	writeSnapshot(t, path, second)
	n, err = w.Reload()
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []engine.EventType{engine.EventSync, engine.EventContactChanged}, sink.types())
}

func TestWatcher_FollowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	writeSnapshot(t, path, first)
	sink := &recordingSink{}
	w := NewWatcher(path, sink)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.types()) == 1 }, 2*time.Second, 10*time.Millisecond)
	writeSnapshot(t, path, second)
	require.Eventually(t, func() bool { return len(sink.types()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, engine.EventContactChanged, sink.types()[1])

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
