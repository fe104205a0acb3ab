package diff

import (
	"slices"

	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/provider"
)

// Capability names stored on account attributes.
const (
	CapTextChats            = "TextChats"
	CapStreamedMediaCalls   = "StreamedMediaCalls"
	CapAudioCalls           = "StreamedMediaAudioCalls"
	CapAudioVideoCalls      = "StreamedMediaAudioVideoCalls"
	CapUpgradingStreamCalls = "UpgradingStreamMediaCalls"
	CapFileTransfers        = "FileTransfers"
)

// DefaultLegacyOnline lists protocols whose "offline" contacts can still
// receive calls and transfers.
var DefaultLegacyOnline = []string{"skype"}

// IsOnline reports whether presence counts as reachable for capability
// purposes. Unset, unknown and error never do. Offline does only for
// protocols in legacy.
func IsOnline(presence provider.PresenceType, protocol string, legacy []string) bool {
	switch presence {
	case provider.PresenceOffline:
		return slices.Contains(legacy, protocol)
	case provider.PresenceUnset, provider.PresenceUnknown, provider.PresenceError, "":
		return false
	}
	return true
}

// Capabilities returns the capability names currently usable. Text chat is
// store-and-forward and always reported; everything else needs an online
// presence.
func Capabilities(caps provider.Capabilities, presence provider.PresenceType, protocol string, legacy []string) []string {
	var out []string
	if caps.TextChats {
		out = append(out, CapTextChats)
	}
	if !IsOnline(presence, protocol, legacy) {
		return out
	}
	if caps.StreamedMediaCalls {
		out = append(out, CapStreamedMediaCalls)
	}
	if caps.AudioCalls {
		out = append(out, CapAudioCalls)
	}
	if caps.VideoCalls {
		out = append(out, CapAudioVideoCalls)
	}
	if caps.UpgradingCalls {
		out = append(out, CapUpgradingStreamCalls)
	}
	if caps.FileTransfers {
		out = append(out, CapFileTransfers)
	}
	return out
}

// PresenceState maps a provider presence type onto the stored state.
func PresenceState(t provider.PresenceType) contact.PresenceState {
	switch t {
	case provider.PresenceOffline:
		return contact.PresenceOffline
	case provider.PresenceAvailable:
		return contact.PresenceAvailable
	case provider.PresenceAway:
		return contact.PresenceAway
	case provider.PresenceExtendedAway:
		return contact.PresenceExtendedAway
	case provider.PresenceHidden:
		return contact.PresenceHidden
	case provider.PresenceBusy:
		return contact.PresenceBusy
	}
	return contact.PresenceUnknown
}
