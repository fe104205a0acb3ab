package diff

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/rosterd/internal/contact"
	"github.com/roach88/rosterd/internal/provider"
)

// Observed is the provider's contact information, parsed into attribute
// groups. Attributes carry no IDs.
type Observed struct {
	Addresses     []contact.PostalAddress
	Birthday      *contact.Birthday
	Emails        []contact.EmailAddress
	Gender        *contact.Gender
	Name          *contact.Name
	Nicknames     []contact.Nickname
	Notes         []contact.Note
	Organizations []contact.Organization
	Phones        []contact.PhoneNumber
	URLs          []contact.URL
}

// FieldError describes an info field, or part of one, that was dropped or
// replaced by a default during parsing.
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("info field %s=%q: %s", e.Field, e.Value, e.Reason)
}

var phoneTypes = map[string]string{
	"bbsl":  "bulletin-board",
	"car":   "car",
	"cell":  "mobile",
	"fax":   "fax",
	"modem": "modem",
	"pager": "pager",
	"video": "video",
	"voice": "voice",
	"isdn":  "landline",
	"pcs":   "landline",
}

var addressTypes = map[string]string{
	"dom":    "domestic",
	"intl":   "international",
	"parcel": "parcel",
	"postal": "postal",
}

var genderTypes = map[string]contact.GenderValue{
	"f":      contact.GenderFemale,
	"female": contact.GenderFemale,
	"m":      contact.GenderMale,
	"male":   contact.GenderMale,
}

var birthdayLayouts = []string{
	"2006-01-02",
	"20060102",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseInfo converts provider info fields into attribute groups. Fields
// that cannot be represented are dropped or defaulted and reported; the
// rest of the fields still apply.
func ParseInfo(fields []provider.InfoField) (Observed, []error) {
	var (
		obs        Observed
		dropped    []error
		org        contact.Organization
		pendingOrg bool
		name       contact.Name
		structured bool
		formatted  string
		fromNick   string
	)

	for _, f := range fields {
		if len(f.Values) == 0 {
			continue
		}
		ctx, subTypes := fieldTypes(f.Parameters)

		switch strings.ToLower(f.Name) {
		case "tel":
			var selected []string
			for _, t := range subTypes {
				if mapped, ok := phoneTypes[t]; ok && !slices.Contains(selected, mapped) {
					selected = append(selected, mapped)
				}
			}
			if len(selected) == 0 {
				if len(subTypes) > 0 {
					dropped = append(dropped, &FieldError{
						Field:  f.Name,
						Value:  strings.Join(subTypes, ","),
						Reason: "unknown phone type, using landline",
					})
				}
				selected = []string{"landline"}
			}
			phoneCtx := ctx
			if phoneCtx == "" {
				phoneCtx = contact.ContextOther
			}
			obs.Phones = append(obs.Phones, contact.PhoneNumber{
				Detail:   contact.Detail{Contexts: []string{phoneCtx}},
				Number:   value(f, 0),
				SubTypes: selected,
			})

		case "adr":
			var selected []string
			for _, t := range subTypes {
				if mapped, ok := addressTypes[t]; ok {
					selected = append(selected, mapped)
				}
			}
			obs.Addresses = append(obs.Addresses, contact.PostalAddress{
				Detail:   detailWith(ctx),
				POBox:    value(f, 0),
				Street:   joinNonEmpty("\n", value(f, 1), value(f, 2)),
				Locality: value(f, 3),
				Region:   value(f, 4),
				PostCode: value(f, 5),
				Country:  value(f, 6),
				SubTypes: selected,
			})

		case "email":
			obs.Emails = append(obs.Emails, contact.EmailAddress{
				Detail:  detailWith(ctx),
				Address: value(f, 0),
			})

		case "url":
			obs.URLs = append(obs.URLs, contact.URL{
				Detail: detailWith(ctx),
				URL:    value(f, 0),
			})

		case "title":
			org.Title = value(f, 0)
			org.Detail = mergeContext(org.Detail, ctx)
			pendingOrg = true

		case "role":
			org.Role = value(f, 0)
			org.Detail = mergeContext(org.Detail, ctx)
			pendingOrg = true

		case "org":
			org.Name = value(f, 0)
			if len(f.Values) > 1 {
				org.Department = slices.Clone(f.Values[1:])
			}
			org.Detail = mergeContext(org.Detail, ctx)
			obs.Organizations = append(obs.Organizations, org)
			org = contact.Organization{}
			pendingOrg = false

		case "n":
			name.Detail = mergeContext(name.Detail, ctx)
			name.Last = value(f, 0)
			name.First = value(f, 1)
			name.Middle = value(f, 2)
			name.Prefix = value(f, 3)
			name.Suffix = value(f, 4)
			structured = true

		case "fn":
			if fn := value(f, 0); fn != "" {
				name.Detail = mergeContext(name.Detail, ctx)
				formatted = fn
			}

		case "nickname":
			nick := value(f, 0)
			if nick == "" {
				continue
			}
			obs.Nicknames = append(obs.Nicknames, contact.Nickname{
				Detail: detailWith(ctx),
				Value:  nick,
			})
			if fromNick == "" {
				fromNick = nick
			}

		case "note", "desc":
			obs.Notes = append(obs.Notes, contact.Note{
				Detail: detailWith(ctx),
				Text:   value(f, 0),
			})

		case "bday":
			text := value(f, 0)
			date, ok := parseBirthday(text)
			if !ok {
				dropped = append(dropped, &FieldError{Field: f.Name, Value: text, Reason: "unsupported date format"})
				continue
			}
			obs.Birthday = &contact.Birthday{Date: date}

		case "x-gender":
			text := value(f, 0)
			g, ok := genderTypes[strings.ToLower(text)]
			if !ok {
				dropped = append(dropped, &FieldError{Field: f.Name, Value: text, Reason: "unsupported gender"})
				continue
			}
			obs.Gender = &contact.Gender{Value: g}

		default:
			dropped = append(dropped, &FieldError{Field: f.Name, Value: value(f, 0), Reason: "unsupported field"})
		}
	}

	// A title or role with no following org still describes an employer.
	if pendingOrg {
		obs.Organizations = append(obs.Organizations, org)
	}

	if formatted == "" {
		formatted = fromNick
	}
	if structured || formatted != "" {
		if !structured {
			name = Decompose(formatted)
		}
		if formatted != "" {
			name.CustomLabel = formatted
		}
		obs.Name = &name
	}

	return obs, dropped
}

// fieldTypes reads "type=" parameters. home and work select the context;
// other values become sub-types in order of first appearance.
func fieldTypes(params []string) (ctx string, subTypes []string) {
	for _, p := range params {
		t, ok := strings.CutPrefix(strings.ToLower(p), "type=")
		if !ok {
			continue
		}
		switch t {
		case "home":
			ctx = contact.ContextHome
		case "work":
			ctx = contact.ContextWork
		default:
			if !slices.Contains(subTypes, t) {
				subTypes = append(subTypes, t)
			}
		}
	}
	return ctx, subTypes
}

func detailWith(ctx string) contact.Detail {
	if ctx == "" {
		return contact.Detail{}
	}
	return contact.Detail{Contexts: []string{ctx}}
}

func mergeContext(d contact.Detail, ctx string) contact.Detail {
	if ctx != "" {
		d.Contexts = []string{ctx}
	}
	return d
}

func value(f provider.InfoField, i int) string {
	if i < len(f.Values) {
		return f.Values[i]
	}
	return ""
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func parseBirthday(text string) (time.Time, bool) {
	for _, layout := range birthdayLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
