// Package provider models the observed state an instant-messaging provider
// reports: accounts, their rosters, and per-contact presence, capabilities
// and info fields. Values are snapshots; the engine never mutates them.
package provider

import "github.com/roach88/rosterd/internal/address"

// PresenceType is the provider's raw presence classification.
type PresenceType string

const (
	PresenceUnset        PresenceType = "unset"
	PresenceOffline      PresenceType = "offline"
	PresenceAvailable    PresenceType = "available"
	PresenceAway         PresenceType = "away"
	PresenceExtendedAway PresenceType = "extended-away"
	PresenceHidden       PresenceType = "hidden"
	PresenceBusy         PresenceType = "busy"
	PresenceUnknown      PresenceType = "unknown"
	PresenceError        PresenceType = "error"
)

// Presence is a presence observation.
type Presence struct {
	Type    PresenceType `yaml:"type" json:"type"`
	Status  string       `yaml:"status,omitempty" json:"status,omitempty"`
	Message string       `yaml:"message,omitempty" json:"message,omitempty"`
}

// Capabilities is the set of features a contact or account advertises.
type Capabilities struct {
	TextChats          bool `yaml:"text_chats,omitempty" json:"text_chats,omitempty"`
	StreamedMediaCalls bool `yaml:"streamed_media_calls,omitempty" json:"streamed_media_calls,omitempty"`
	AudioCalls         bool `yaml:"audio_calls,omitempty" json:"audio_calls,omitempty"`
	VideoCalls         bool `yaml:"video_calls,omitempty" json:"video_calls,omitempty"`
	UpgradingCalls     bool `yaml:"upgrading_calls,omitempty" json:"upgrading_calls,omitempty"`
	FileTransfers      bool `yaml:"file_transfers,omitempty" json:"file_transfers,omitempty"`
}

// InfoField is one vCard-like contact-information field.
type InfoField struct {
	Name       string   `yaml:"name" json:"name"`
	Parameters []string `yaml:"params,omitempty" json:"params,omitempty"`
	Values     []string `yaml:"values,omitempty" json:"values,omitempty"`
}

// Contact is one roster entry.
type Contact struct {
	ID           string       `yaml:"id" json:"id"`
	Alias        string       `yaml:"alias,omitempty" json:"alias,omitempty"`
	Presence     Presence     `yaml:"presence,omitempty" json:"presence,omitempty"`
	Capabilities Capabilities `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	// InfoKnown is false until the provider has delivered contact info;
	// Info is ignored while it is false.
	InfoKnown       bool        `yaml:"info_known,omitempty" json:"info_known,omitempty"`
	Info            []InfoField `yaml:"info,omitempty" json:"info,omitempty"`
	AvatarPath      string      `yaml:"avatar,omitempty" json:"avatar,omitempty"`
	LargeAvatarPath string      `yaml:"large_avatar,omitempty" json:"large_avatar,omitempty"`
	// Hidden marks entries that are on the roster list but not subscribed.
	Hidden bool `yaml:"hidden,omitempty" json:"hidden,omitempty"`
}

// Account is one provider account and, when it has a roster, its contacts.
type Account struct {
	Path                string       `yaml:"path" json:"path"`
	Protocol            string       `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	ServiceName         string       `yaml:"service,omitempty" json:"service,omitempty"`
	ProviderDisplayName string       `yaml:"provider_display_name,omitempty" json:"provider_display_name,omitempty"`
	DisplayName         string       `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Nickname            string       `yaml:"nickname,omitempty" json:"nickname,omitempty"`
	NormalizedName      string       `yaml:"normalized_name,omitempty" json:"normalized_name,omitempty"`
	IconName            string       `yaml:"icon,omitempty" json:"icon,omitempty"`
	AvatarPath          string       `yaml:"avatar,omitempty" json:"avatar,omitempty"`
	Enabled             bool         `yaml:"enabled" json:"enabled"`
	Ready               bool         `yaml:"ready" json:"ready"`
	HasRoster           bool         `yaml:"has_roster" json:"has_roster"`
	Presence            Presence     `yaml:"presence,omitempty" json:"presence,omitempty"`
	Capabilities        Capabilities `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Contacts            []Contact    `yaml:"contacts,omitempty" json:"contacts,omitempty"`
}

// Address returns the account's own identity address.
func (a Account) Address() address.Address {
	return address.ForSelf(a.Path)
}

// ContactAddress returns the address of a roster entry of a.
func (a Account) ContactAddress(id string) address.Address {
	return address.Resolve(a.Path, id)
}

// Contact returns the roster entry with id.
func (a Account) Contact(id string) (Contact, bool) {
	for _, c := range a.Contacts {
		if c.ID == id {
			return c, true
		}
	}
	return Contact{}, false
}

// Online reports whether the account is usable for roster operations.
func (a Account) Online() bool {
	return a.Enabled && a.HasRoster
}

// Snapshot is the complete observed provider state.
type Snapshot struct {
	Accounts []Account `yaml:"accounts" json:"accounts"`
}

// Account returns the account with path.
func (s Snapshot) Account(path string) (Account, bool) {
	for _, a := range s.Accounts {
		if a.Path == path {
			return a, true
		}
	}
	return Account{}, false
}

// Lookup finds accounts by path. Snapshot implements it.
type Lookup interface {
	Account(path string) (Account, bool)
}
