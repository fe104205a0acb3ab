package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/engine"
)

// StoreSnapshot is what a golden file records: the store contents after
// the scenario's last step.
type StoreSnapshot struct {
	Scenario string           `json:"scenario"`
	Self     contact.Record   `json:"self"`
	Contacts []contact.Record `json:"contacts"`
	Totals   engine.Totals    `json:"totals"`
}

// Golden renders the result as indented canonical JSON.
func Golden(name string, result *Result) ([]byte, error) {
	contacts := result.Contacts
	if contacts == nil {
		contacts = []contact.Record{}
	}
	canonical, err := contact.MarshalCanonical(StoreSnapshot{
		Scenario: name,
		Self:     result.Self,
		Contacts: contacts,
		Totals:   result.Totals,
	})
	if err != nil {
		return nil, fmt.Errorf("render golden: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, fmt.Errorf("render golden: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden runs a scenario, fails t on assertion errors and compares
// the store against testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()
	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()
	data, err := Golden(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// GoldenPath returns the golden file kept next to a scenario file.
func GoldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// UpdateGolden writes the result's golden file for scenarioFile.
func UpdateGolden(scenarioFile string, scenario *Scenario, result *Result) error {
	data, err := Golden(scenario.Name, result)
	if err != nil {
		return err
	}
	path := GoldenPath(scenarioFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether the result matches the golden file for
// scenarioFile. A missing golden file returns os.ErrNotExist.
func CompareGolden(scenarioFile string, scenario *Scenario, result *Result) (bool, error) {
	want, err := os.ReadFile(GoldenPath(scenarioFile))
	if err != nil {
		return false, err
	}
	got, err := Golden(scenario.Name, result)
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, got), nil
}
