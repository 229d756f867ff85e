package auth

import "strings"

// Whitelist is the static set of email addresses allowed to sign in.
type Whitelist struct {
	emails map[string]struct{}
}

// ParseWhitelist reads a comma-separated list; entries are trimmed and lower-cased.
func ParseWhitelist(raw string) Whitelist {
	w := Whitelist{emails: make(map[string]struct{})}
	for _, entry := range strings.Split(raw, ",") {
		entry = normalizeEmail(entry)
		if entry == "" {
			continue
		}
		w.emails[entry] = struct{}{}
	}
	return w
}

// Allows reports whether email is listed, ignoring case.
func (w Whitelist) Allows(email string) bool {
	email = normalizeEmail(email)
	if email == "" {
		return false
	}
	_, ok := w.emails[email]
	return ok
}

// Len returns the number of listed addresses.
func (w Whitelist) Len() int {
	return len(w.emails)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OwnerKey is the workspace key for an identity.
func OwnerKey(email string) string {
	return normalizeEmail(email)
}
