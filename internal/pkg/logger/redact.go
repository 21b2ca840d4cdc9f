package logger

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// piiFields masks a field whose lower-cased key contains the fragment.
var piiFields = []struct {
	fragment string
	mask     func(string) string
}{
	{"email", RedactEmail},
	{"username", RedactUsername},
}

// RedactEmail keeps the first two characters of the local part:
// "john.doe@example.com" becomes "jo***@example.com". Local parts of two
// characters or fewer are fully masked.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}

// RedactUsername keeps only the first character.
func RedactUsername(name string) string {
	if name == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(name)
	return string(r) + "***"
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	for _, f := range piiFields {
		if strings.Contains(key, f.fragment) {
			return f.mask(val)
		}
	}
	// Store errors can echo an address back.
	return emailPattern.ReplaceAllStringFunc(val, RedactEmail)
}
