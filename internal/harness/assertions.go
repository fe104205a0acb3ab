package harness

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/roach88/rosterd/internal/address"
	"github.com/roach88/rosterd/internal/contact"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns
// the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertContactCount:
			err = assertContactCount(result, a)
		case AssertContactState:
			err = assertContactState(result, a)
		case AssertSelfAccounts:
			err = assertSelfAccounts(result, a)
		case AssertPresenceState:
			err = assertPresenceState(result, a)
		case AssertLogContains:
			err = assertLogContains(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertContactCount(result *Result, a Assertion) error {
	count := 0
	for _, rec := range result.Contacts {
		if a.Account == "" || (rec.Origin != nil && rec.Origin.Group == a.Account) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	scope := "roster records"
	if a.Account != "" {
		scope += " of " + a.Account
	}
	return &AssertionError{
		Type:     AssertContactCount,
		Expected: fmt.Sprintf("%d %s", a.Count, scope),
		Actual:   fmt.Sprintf("%d: %v", count, origins(result.Contacts)),
	}
}

func assertContactState(result *Result, a Assertion) error {
	rec, ok := result.Contact(a.Address)
	if a.Absent {
		if ok {
			return &AssertionError{Type: AssertContactState, Expected: "no record for " + a.Address, Actual: "record " + string(rec.ID)}
		}
		return nil
	}
	if !ok {
		return &AssertionError{Type: AssertContactState, Expected: "record for " + a.Address, Actual: "not found"}
	}

	actual, err := asJSON(rec)
	if err != nil {
		return err
	}
	if path, ok := matchSubset(actual, a.Expect, ""); !ok {
		return &AssertionError{
			Type:     AssertContactState,
			Expected: fmt.Sprintf("%s to match %v", a.Address, a.Expect),
			Actual:   fmt.Sprintf("mismatch at %s in %v", path, actual),
		}
	}
	return nil
}

func assertSelfAccounts(result *Result, a Assertion) error {
	var got []string
	for _, oa := range result.Self.Accounts {
		got = append(got, oa.AccountPath)
	}
	sort.Strings(got)
	want := slices.Clone(a.Accounts)
	sort.Strings(want)
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertSelfAccounts,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
	}
}

func assertPresenceState(result *Result, a Assertion) error {
	rec, ok := result.Contact(a.Address)
	if !ok {
		return &AssertionError{Type: AssertPresenceState, Expected: "record for " + a.Address, Actual: "not found"}
	}
	p := rec.PresenceByURI(string(address.Presence(address.Address(a.Address))))
	if p == nil {
		return &AssertionError{Type: AssertPresenceState, Expected: "presence for " + a.Address, Actual: "no presence attribute"}
	}
	if string(p.State) != a.State || (a.Message != "" && p.Message != a.Message) {
		return &AssertionError{
			Type:     AssertPresenceState,
			Expected: fmt.Sprintf("%s %q", a.State, a.Message),
			Actual:   fmt.Sprintf("%s %q", p.State, p.Message),
		}
	}
	return nil
}

func assertLogContains(result *Result, a Assertion) error {
	if strings.Contains(result.Log, a.Text) {
		return nil
	}
	return &AssertionError{Type: AssertLogContains, Expected: fmt.Sprintf("log containing %q", a.Text), Actual: result.Log}
}

func asJSON(rec contact.Record) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return out, nil
}

// matchSubset reports whether actual contains expected. Maps match on the
// listed keys only, where nil requires absence. Lists match element-wise
// and must have the same length. Returns the first mismatching path.
func matchSubset(actual any, expected any, path string) (string, bool) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return path, false
		}
		for key, want := range exp {
			got, present := act[key]
			if want == nil {
				if present {
					return path + "." + key, false
				}
				continue
			}
			if !present {
				return path + "." + key, false
			}
			if p, ok := matchSubset(got, want, path+"."+key); !ok {
				return p, false
			}
		}
		return "", true

	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return path, false
		}
		for i := range exp {
			if p, ok := matchSubset(act[i], exp[i], fmt.Sprintf("%s[%d]", path, i)); !ok {
				return p, false
			}
		}
		return "", true
	}

	if scalarEqual(actual, expected) {
		return "", true
	}
	return path, false
}

// scalarEqual compares scalars by their printed form. A date-only string
// also matches a timestamp on that day.
func scalarEqual(actual, expected any) bool {
	if fmt.Sprint(actual) == fmt.Sprint(expected) {
		return true
	}
	want, ok := expected.(string)
	if !ok {
		return false
	}
	got, ok := actual.(string)
	if !ok {
		return false
	}
	day, err := time.Parse(time.DateOnly, want)
	if err != nil {
		return false
	}
	ts, err := time.Parse(time.RFC3339, got)
	return err == nil && contact.SameDate(day, ts)
}

func origins(recs []contact.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, origin(r))
	}
	return out
}
