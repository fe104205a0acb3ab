package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand_Valid(t *testing.T) {
	out, err := execute(t, "validate",
		"../feed/testdata/snapshot.yaml",
		"../feed/testdata/snapshot.cue",
		"../feed/testdata/snapshot.json",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ ../feed/testdata/snapshot.yaml")
	assert.Contains(t, out, "✓ ../feed/testdata/snapshot.cue")
	assert.Contains(t, out, "✓ ../feed/testdata/snapshot.json")
	assert.NotContains(t, out, "✗")
}

func TestValidateCommand_Invalid(t *testing.T) {
	out, err := execute(t, "validate", "../feed/testdata/snapshot.yaml", "../feed/testdata/unknown_field.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ ../feed/testdata/snapshot.yaml")
	assert.Contains(t, out, "✗ ../feed/testdata/unknown_field.yaml")
}

func TestValidateCommand_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", "../feed/testdata/duplicate.yaml")
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalid, resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Snapshots, 1)
	assert.Contains(t, resp.Data.Snapshots[0].Error, "duplicate")
}

func TestValidateCommand_RequiresArgs(t *testing.T) {
	_, err := execute(t, "validate")
	require.Error(t, err)
}
