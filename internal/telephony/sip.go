package telephony

import (
	"strings"
	"unicode"
)

const (
	sipIdentityPrefix = "sip_"
	telPrefix         = "tel:"
)

// SIPIdentity is the room identity used for the dialed participant:
// "sip_" followed by the digits of the number.
func SIPIdentity(phone string) string {
	var b strings.Builder
	b.WriteString(sipIdentityPrefix)
	for _, r := range strings.TrimPrefix(phone, telPrefix) {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsSIPIdentity reports whether identity was produced by SIPIdentity.
func IsSIPIdentity(identity string) bool {
	return strings.HasPrefix(identity, sipIdentityPrefix)
}

// DialTarget strips a tel: prefix; the provider expects a bare E.164 number.
func DialTarget(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), telPrefix)
}

// TransferTarget returns phone as a tel: URI.
func TransferTarget(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, telPrefix) || strings.HasPrefix(phone, "sip:") {
		return phone
	}
	return telPrefix + phone
}
