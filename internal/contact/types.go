package contact

import (
	"slices"
	"time"
)

// ID identifies a stored record.
type ID string

// Well-known sync targets.
const (
	SyncTargetLocal     = "local"
	SyncTargetAggregate = "aggregate"
)

// Context values shared by several attribute groups.
const (
	ContextHome  = "Home"
	ContextWork  = "Work"
	ContextOther = "Other"
)

// Detail is embedded in every attribute.
type Detail struct {
	// ID is assigned by the store when the attribute is first written.
	// Attributes produced by a diff carry an empty ID and receive a fresh
	// one on write.
	ID       string   `json:"id,omitempty"`
	URI      string   `json:"uri,omitempty"`
	Links    []string `json:"links,omitempty"`
	Contexts []string `json:"contexts,omitempty"`
}

// Linked reports whether d links to uri.
func (d Detail) Linked(uri string) bool {
	return slices.Contains(d.Links, uri)
}

func (d Detail) clone() Detail {
	d.Links = slices.Clone(d.Links)
	d.Contexts = slices.Clone(d.Contexts)
	return d
}

// Origin records where a record came from: the contact address and the
// account path it belongs to.
type Origin struct {
	ID      string `json:"id"`
	Group   string `json:"group"`
	Enabled bool   `json:"enabled"`
}

// OnlineAccount is the per-account identity attribute.
type OnlineAccount struct {
	Detail
	AccountPath         string   `json:"account_path,omitempty"`
	AccountURI          string   `json:"account_uri,omitempty"`
	Protocol            string   `json:"protocol,omitempty"`
	ServiceProvider     string   `json:"service_provider,omitempty"`
	ProviderDisplayName string   `json:"provider_display_name,omitempty"`
	DisplayName         string   `json:"display_name,omitempty"`
	IconPath            string   `json:"icon_path,omitempty"`
	Capabilities        []string `json:"capabilities,omitempty"`
	Enabled             bool     `json:"enabled"`
}

// PresenceState is the normalized presence of an account or contact.
type PresenceState string

const (
	PresenceUnknown      PresenceState = "unknown"
	PresenceOffline      PresenceState = "offline"
	PresenceAvailable    PresenceState = "available"
	PresenceAway         PresenceState = "away"
	PresenceExtendedAway PresenceState = "extended-away"
	PresenceHidden       PresenceState = "hidden"
	PresenceBusy         PresenceState = "busy"
)

// Presence is the per-account presence attribute.
type Presence struct {
	Detail
	State     PresenceState `json:"state"`
	Message   string        `json:"message,omitempty"`
	Nickname  string        `json:"nickname,omitempty"`
	Timestamp time.Time     `json:"timestamp,omitzero"`
}

// Name holds structured name parts. CustomLabel keeps the provider's
// formatted name verbatim.
type Name struct {
	Detail
	Prefix      string `json:"prefix,omitempty"`
	First       string `json:"first,omitempty"`
	Middle      string `json:"middle,omitempty"`
	Last        string `json:"last,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	CustomLabel string `json:"custom_label,omitempty"`
}

// Empty reports whether no name part is set.
func (n Name) Empty() bool {
	return n.Prefix == "" && n.First == "" && n.Middle == "" &&
		n.Last == "" && n.Suffix == "" && n.CustomLabel == ""
}

// PostalAddress is a postal address attribute.
type PostalAddress struct {
	Detail
	POBox    string   `json:"pobox,omitempty"`
	Street   string   `json:"street,omitempty"`
	Locality string   `json:"locality,omitempty"`
	Region   string   `json:"region,omitempty"`
	PostCode string   `json:"postcode,omitempty"`
	Country  string   `json:"country,omitempty"`
	SubTypes []string `json:"sub_types,omitempty"`
}

// PhoneNumber is a phone number attribute.
type PhoneNumber struct {
	Detail
	Number   string   `json:"number"`
	SubTypes []string `json:"sub_types,omitempty"`
}

// EmailAddress is an email attribute.
type EmailAddress struct {
	Detail
	Address string `json:"address"`
}

// Organization is an employer attribute. Title and role accumulate from
// separate provider fields onto the organization they precede.
type Organization struct {
	Detail
	Name       string   `json:"name,omitempty"`
	Department []string `json:"department,omitempty"`
	Title      string   `json:"title,omitempty"`
	Role       string   `json:"role,omitempty"`
}

// Note is a free-text note.
type Note struct {
	Detail
	Text string `json:"text"`
}

// URL is a web address attribute.
type URL struct {
	Detail
	URL string `json:"url"`
}

// GenderValue is the normalized gender.
type GenderValue string

const (
	GenderMale   GenderValue = "male"
	GenderFemale GenderValue = "female"
)

// Gender is a scalar attribute.
type Gender struct {
	Detail
	Value GenderValue `json:"value"`
}

// Birthday is a scalar attribute holding a calendar date.
type Birthday struct {
	Detail
	Date time.Time `json:"date"`
}

// Nickname is an additive attribute.
type Nickname struct {
	Detail
	Value string `json:"value"`
}

// Avatar points at an image file.
type Avatar struct {
	Detail
	ImageURL string `json:"image_url"`
	Metadata string `json:"metadata,omitempty"`
}

// Record is one stored contact.
type Record struct {
	ID         ID      `json:"id,omitempty"`
	SyncTarget string  `json:"sync_target,omitempty"`
	Origin     *Origin `json:"origin,omitempty"`

	Accounts      []OnlineAccount `json:"accounts,omitempty"`
	Presences     []Presence      `json:"presences,omitempty"`
	Name          *Name           `json:"name,omitempty"`
	Addresses     []PostalAddress `json:"addresses,omitempty"`
	Phones        []PhoneNumber   `json:"phones,omitempty"`
	Emails        []EmailAddress  `json:"emails,omitempty"`
	Organizations []Organization  `json:"organizations,omitempty"`
	Notes         []Note          `json:"notes,omitempty"`
	URLs          []URL           `json:"urls,omitempty"`
	Gender        *Gender         `json:"gender,omitempty"`
	Birthday      *Birthday       `json:"birthday,omitempty"`
	Nicknames     []Nickname      `json:"nicknames,omitempty"`
	Avatars       []Avatar        `json:"avatars,omitempty"`
}

// RelationshipType names the kind of edge between two records.
type RelationshipType string

// Aggregates links an aggregate (First) to one of its constituents (Second).
const Aggregates RelationshipType = "Aggregates"

// Relationship is a directed edge between two records.
type Relationship struct {
	First  ID               `json:"first"`
	Second ID               `json:"second"`
	Type   RelationshipType `json:"type"`
}
