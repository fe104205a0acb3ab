package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/testutil"
)

// createTestStore creates a new file-backed store with predictable ids.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{
		WithIDGenerator(testutil.NewSequenceGenerator("id")),
		WithClock(testutil.NewFakeClock().Now),
	}, opts...)
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// rosterRecord builds a minimal valid roster record for addr.
func rosterRecord(accountPath, id string) contact.Record {
	addr := accountPath + "!" + id
	return contact.Record{
		SyncTarget: "telepathy",
		Origin:     &contact.Origin{ID: addr, Group: accountPath, Enabled: true},
		Accounts: []contact.OnlineAccount{{
			Detail:      contact.Detail{URI: addr, Links: []string{addr + "!presence"}},
			AccountPath: accountPath,
			AccountURI:  id,
			Enabled:     true,
		}},
		Presences: []contact.Presence{{
			Detail: contact.Detail{URI: addr + "!presence", Links: []string{addr}},
			State:  contact.PresenceUnknown,
		}},
	}
}

func mustSave(t *testing.T, s *Store, rec contact.Record) contact.Record {
	t.Helper()
	require.NoError(t, s.SaveContacts(t.Context(), []*contact.Record{&rec}, nil))
	return rec
}
