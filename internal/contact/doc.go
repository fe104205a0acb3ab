// Package contact defines the persistent contact record model.
//
// A Record is a fixed set of typed attribute groups. Every attribute embeds
// Detail, which carries the store-assigned identifier plus the URI/link pair
// used to tie an account identity to its presence and avatar on the same
// record.
//
// # Link references
//
// An OnlineAccount's URI is the contact address ("<account path>!<id>") and
// its Links hold the presence address. The Presence carries the inverse
// pair. Avatars link back to the account URI. Removing an account from a
// record therefore means removing every attribute whose URI or Links point
// at it (see Record.RemoveLinked).
package contact
