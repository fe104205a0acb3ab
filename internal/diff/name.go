package diff

import (
	"strings"

	"github.com/roach88/rosterd/internal/contact"
)

// Decompose splits a formatted display name into structured parts.
//
//	"Ann Lee"          first=Ann last=Lee
//	"Ann Marie Lee"    first=Ann middle=Marie last=Lee
//	"Ann Marie Jo Lee" first="Ann Marie" middle=Jo last=Lee
//
// Single-token names populate no parts. The input is always kept as the
// custom label.
func Decompose(formatted string) contact.Name {
	n := contact.Name{CustomLabel: formatted}
	tokens := strings.Fields(formatted)
	switch count := len(tokens); {
	case count == 2:
		n.First, n.Last = tokens[0], tokens[1]
	case count == 3:
		n.First, n.Middle, n.Last = tokens[0], tokens[1], tokens[2]
	case count >= 4:
		n.First = strings.Join(tokens[:count-2], " ")
		n.Middle, n.Last = tokens[count-2], tokens[count-1]
	}
	return n
}
