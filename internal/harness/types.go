package harness

import (
	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/engine"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	// Contacts are the roster records ordered by address.
	Contacts []contact.Record `json:"contacts"`
	// Self is the engine's self record.
	Self contact.Record `json:"self"`
	// Totals are the engine's write counters.
	Totals engine.Totals `json:"totals"`
	// Log is the engine's text log output.
	Log string `json:"-"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Contact returns the record whose origin is address.
func (r *Result) Contact(address string) (contact.Record, bool) {
	for _, rec := range r.Contacts {
		if rec.Origin != nil && rec.Origin.ID == address {
			return rec, true
		}
	}
	return contact.Record{}, false
}
