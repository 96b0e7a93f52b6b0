package leads

import (
	"strings"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/phone"
)

// Directory holds the store contacts leads can be routed to.
type Directory struct {
	contacts []entity.StoreContact
}

// ParseContacts reads "key:name:phone[:role]" entries separated by ";".
// Entries with fewer than three parts or without a phone are dropped.
func ParseContacts(raw string) *Directory {
	d := &Directory{}
	for _, chunk := range strings.Split(raw, ";") {
		entry := strings.TrimSpace(chunk)
		if entry == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(entry, ":") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) < 3 {
			continue
		}
		digits := phone.Digits(parts[2])
		if digits == "" {
			continue
		}
		c := entity.StoreContact{
			Key:          normalizeIdentifier(parts[0]),
			Name:         parts[1],
			Phone:        digits,
			DisplayPhone: parts[2],
		}
		if len(parts) > 3 {
			c.Role = parts[3]
		}
		d.contacts = append(d.contacts, c)
	}
	return d
}

func (d *Directory) Contacts() []entity.StoreContact {
	out := make([]entity.StoreContact, len(d.contacts))
	copy(out, d.contacts)
	return out
}

// Resolve finds a contact by key, name or role, ignoring case and punctuation.
func (d *Directory) Resolve(identifier string) (entity.StoreContact, bool) {
	id := normalizeIdentifier(identifier)
	if id == "" {
		return entity.StoreContact{}, false
	}
	for _, c := range d.contacts {
		if c.Key == id || normalizeIdentifier(c.Name) == id {
			return c, true
		}
	}
	for _, c := range d.contacts {
		if c.Role != "" && normalizeIdentifier(c.Role) == id {
			return c, true
		}
	}
	return entity.StoreContact{}, false
}

func normalizeIdentifier(value string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(value) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
