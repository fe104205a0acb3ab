// Package diff computes the minimal change between a stored contact record
// and the provider's latest observation of it.
//
// Every function here is pure with respect to storage: callers hand in a
// record and get back an updated copy plus the set of change categories that
// actually mutated something. An empty result means nothing needs writing.
//
// Attribute groups follow one of three policies:
//
//   - scalar (gender, birthday): cleared when the provider drops the field,
//     replaced when it differs
//   - ordered list (addresses, emails, organizations, notes, phones, urls):
//     compared by cardinality then aligned pairs; any mismatch replaces the
//     whole group with fresh attributes
//   - additive (nicknames): observed values missing locally are appended,
//     nothing is removed
package diff
