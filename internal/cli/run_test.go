package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand_NoSnapshot(t *testing.T) {
	_, err := execute(t, "--db", filepath.Join(t.TempDir(), "rosterd.db"), "run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no snapshot")
}

func TestRunCommand_BadSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := writeFile(t, filepath.Join(dir, "accounts.yaml"), "accounts: [\n")

	_, err := execute(t, "--db", filepath.Join(dir, "rosterd.db"), "run", "--watch=false", snap)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommand_ProcessesSnapshot(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "rosterd.db")
	snap := writeFile(t, filepath.Join(dir, "accounts.yaml"), twoContacts)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	out, err := executeContext(t, ctx, "--db", db, "run", "--watch=false", snap)
	require.NoError(t, err)
	assert.Contains(t, out, "Engine started. Syncing "+snap)

	contacts := listContacts(t, db)
	assert.Len(t, contacts, 2)
}

func TestRunCommand_Watch(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "rosterd.db")
	snap := writeFile(t, filepath.Join(dir, "accounts.yaml"), oneContact)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := executeContext(t, ctx, "--db", db, "run", snap)
	require.NoError(t, err)

	contacts := listContacts(t, db)
	require.Len(t, contacts, 1)
	assert.Equal(t, "/acct/jabber/ann!bob@example.com", contacts[0].Address)
}
