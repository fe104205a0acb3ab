package contact

import "github.com/google/uuid"

// IDGenerator mints identifiers for new records and attributes.
// Implemented by UUIDv7Generator (production) and testutil.SequenceGenerator.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator produces time-sortable UUIDv7 strings.
// Safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7. Panics if the system entropy source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
