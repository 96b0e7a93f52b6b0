package phone

import (
	"strings"
)

const groupSuffix = "@g.us"

// Digits keeps only the digits of a phone-like string.
func Digits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FromJID extracts the phone part of a WhatsApp JID such as
// "5511999999999@s.whatsapp.net". Group JIDs return an empty string.
func FromJID(jid string) string {
	if jid == "" || strings.HasSuffix(jid, groupSuffix) {
		return ""
	}
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	// device suffix, "5511999999999:12"
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return Digits(jid)
}

// IsGroup reports whether the JID addresses a group chat.
func IsGroup(jid string) bool {
	return strings.HasSuffix(jid, groupSuffix)
}
