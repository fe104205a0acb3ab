package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/rosterd/internal/contact"
)

// attributes returns the attributes of group g in storage order. The
// order matches rec.Details(g).
func attributes(rec *contact.Record, g contact.Group) []any {
	switch g {
	case contact.GroupAccount:
		return asAny(rec.Accounts)
	case contact.GroupPresence:
		return asAny(rec.Presences)
	case contact.GroupName:
		if rec.Name != nil {
			return []any{*rec.Name}
		}
	case contact.GroupAddress:
		return asAny(rec.Addresses)
	case contact.GroupPhone:
		return asAny(rec.Phones)
	case contact.GroupEmail:
		return asAny(rec.Emails)
	case contact.GroupOrganization:
		return asAny(rec.Organizations)
	case contact.GroupNote:
		return asAny(rec.Notes)
	case contact.GroupURL:
		return asAny(rec.URLs)
	case contact.GroupGender:
		if rec.Gender != nil {
			return []any{*rec.Gender}
		}
	case contact.GroupBirthday:
		if rec.Birthday != nil {
			return []any{*rec.Birthday}
		}
	case contact.GroupNickname:
		return asAny(rec.Nicknames)
	case contact.GroupAvatar:
		return asAny(rec.Avatars)
	}
	return nil
}

func asAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// marshalBody converts an attribute to canonical JSON TEXT for storage.
func marshalBody(attr any) (string, error) {
	data, err := contact.MarshalCanonical(attr)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}
	return string(data), nil
}

func marshalLinks(links []string) (string, error) {
	if links == nil {
		links = []string{}
	}
	data, err := contact.MarshalCanonical(links)
	if err != nil {
		return "", fmt.Errorf("marshal links: %w", err)
	}
	return string(data), nil
}

// decodeDetail appends the attribute stored in body to rec.
func decodeDetail(rec *contact.Record, g contact.Group, body []byte) error {
	var err error
	switch g {
	case contact.GroupAccount:
		err = appendJSON(&rec.Accounts, body)
	case contact.GroupPresence:
		err = appendJSON(&rec.Presences, body)
	case contact.GroupName:
		err = setJSON(&rec.Name, body)
	case contact.GroupAddress:
		err = appendJSON(&rec.Addresses, body)
	case contact.GroupPhone:
		err = appendJSON(&rec.Phones, body)
	case contact.GroupEmail:
		err = appendJSON(&rec.Emails, body)
	case contact.GroupOrganization:
		err = appendJSON(&rec.Organizations, body)
	case contact.GroupNote:
		err = appendJSON(&rec.Notes, body)
	case contact.GroupURL:
		err = appendJSON(&rec.URLs, body)
	case contact.GroupGender:
		err = setJSON(&rec.Gender, body)
	case contact.GroupBirthday:
		err = setJSON(&rec.Birthday, body)
	case contact.GroupNickname:
		err = appendJSON(&rec.Nicknames, body)
	case contact.GroupAvatar:
		err = appendJSON(&rec.Avatars, body)
	default:
		return fmt.Errorf("unknown detail group %q", g)
	}
	if err != nil {
		return fmt.Errorf("decode %s detail: %w", g, err)
	}
	return nil
}

func appendJSON[T any](dst *[]T, body []byte) error {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return err
	}
	*dst = append(*dst, v)
	return nil
}

func setJSON[T any](dst **T, body []byte) error {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}
