package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rosterd/internal/change"
	"github.com/roach88/rosterd/internal/provider"
)

// Scenario is one harness test.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Engine tuning. Zero values select the configured defaults.
	Debounce      time.Duration `yaml:"debounce,omitempty"`
	MaxWait       time.Duration `yaml:"max_wait,omitempty"`
	BatchSize     int           `yaml:"batch_size,omitempty"`
	AutoAggregate bool          `yaml:"auto_aggregate,omitempty"`
	LegacyOnline  []string      `yaml:"legacy_online,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`

	// BaseDir resolves snapshot_file steps. LoadScenario sets it to the
	// scenario's directory.
	BaseDir string `yaml:"-"`
}

// Step is exactly one of its fields.
type Step struct {
	Snapshot     *provider.Snapshot `yaml:"snapshot,omitempty"`
	SnapshotFile string             `yaml:"snapshot_file,omitempty"`
	Change       *ContactChange     `yaml:"change,omitempty"`
	Advance      time.Duration      `yaml:"advance,omitempty"`
	Flush        bool               `yaml:"flush,omitempty"`
}

// Kind names the populated field of s.
func (s Step) Kind() string {
	switch {
	case s.Snapshot != nil:
		return "snapshot"
	case s.SnapshotFile != "":
		return "snapshot_file"
	case s.Change != nil:
		return "change"
	case s.Advance != 0:
		return "advance"
	case s.Flush:
		return "flush"
	}
	return ""
}

func (s Step) kinds() int {
	n := 0
	for _, set := range []bool{s.Snapshot != nil, s.SnapshotFile != "", s.Change != nil, s.Advance != 0, s.Flush} {
		if set {
			n++
		}
	}
	return n
}

// ContactChange is a single contact update from a provider.
type ContactChange struct {
	Account string           `yaml:"account"`
	Contact provider.Contact `yaml:"contact"`
	// Mask defaults to the difference from the contact's previous
	// observation.
	Mask change.Set `yaml:"mask,omitempty"`
}

// Assertion checks the store after the last step.
type Assertion struct {
	Type string `yaml:"type"`

	// Account restricts contact_count to one account path.
	Account string `yaml:"account,omitempty"`
	// Count is the expected number of records (contact_count).
	Count int `yaml:"count,omitempty"`

	// Address is a contact address (contact_state, presence_state).
	Address string `yaml:"address,omitempty"`
	// Expect is matched as a subset of the record's JSON form. A null
	// value requires the key to be absent.
	Expect map[string]any `yaml:"expect,omitempty"`
	// Absent requires that no record exists for Address.
	Absent bool `yaml:"absent,omitempty"`

	// State and Message are the expected presence (presence_state).
	State   string `yaml:"state,omitempty"`
	Message string `yaml:"message,omitempty"`

	// Accounts are the expected self account paths (self_accounts).
	Accounts []string `yaml:"accounts,omitempty"`

	// Text is searched for in the log (log_contains).
	Text string `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertContactCount  = "contact_count"
	AssertContactState  = "contact_state"
	AssertSelfAccounts  = "self_accounts"
	AssertPresenceState = "presence_state"
	AssertLogContains   = "log_contains"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.BaseDir = filepath.Dir(path)
	return s, nil
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		switch n := step.kinds(); {
		case n == 0:
			return fmt.Errorf("steps[%d]: empty step", i)
		case n > 1:
			return fmt.Errorf("steps[%d]: a step does one thing, found %d", i, n)
		}
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", i)
		}
		if c := step.Change; c != nil {
			if c.Account == "" {
				return fmt.Errorf("steps[%d].change: account is required", i)
			}
			if c.Contact.ID == "" {
				return fmt.Errorf("steps[%d].change: contact id is required", i)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertContactCount, AssertSelfAccounts:
	case AssertContactState:
		if a.Address == "" {
			return fmt.Errorf("assertions[%d]: contact_state requires address", index)
		}
		if len(a.Expect) == 0 && !a.Absent {
			return fmt.Errorf("assertions[%d]: contact_state requires expect or absent", index)
		}
	case AssertPresenceState:
		if a.Address == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: presence_state requires address and state", index)
		}
	case AssertLogContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: log_contains requires text", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
