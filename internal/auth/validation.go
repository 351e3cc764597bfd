package auth

import (
	"net/mail"
	"regexp"
	"strings"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.]+$`)

// reservedUsernames can never be registered by a real account. They overlap
// with names the wire protocol and service-host catalog use for synthetic
// identities: an external client's address defaults to "_net" plus the app
// id, and the `admin` role name appears in role-listing payloads, so letting
// either through as an actual username would make those outputs ambiguous.
var reservedUsernames = map[string]struct{}{
	"admin":     {},
	"anonymous": {},
	"netsbox":   {},
	"system":    {},
	"_net":      {},
}

// ValidateEmail parses and normalizes an email address, returning the
// normalized form and domain. Returns ErrInvalidEmail if the format is invalid
// or the input is longer than 254 bytes.
func ValidateEmail(email string) (normalized, domain string, err error) {
	if len(email) > 254 {
		return "", "", ErrInvalidEmail
	}
	addr, parseErr := mail.ParseAddress(email)
	if parseErr != nil {
		return "", "", ErrInvalidEmail
	}

	normalized = strings.ToLower(addr.Address)

	parts := strings.SplitN(normalized, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidEmail
	}

	return normalized, parts[1], nil
}

// ValidateUsername checks that a username is 2-32 characters, only contains
// letters, digits, underscores, and periods, and isn't one of the names
// reserved for synthetic/system identities.
func ValidateUsername(username string) error {
	if len(username) < 2 || len(username) > 32 {
		return ErrUsernameLength
	}
	if !usernameRegex.MatchString(username) {
		return ErrUsernameInvalidChars
	}
	if _, reserved := reservedUsernames[strings.ToLower(username)]; reserved {
		return ErrUsernameInvalidChars
	}
	return nil
}

// ValidatePassword checks that a password is between 8 and 128 characters.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	if len(password) > 128 {
		return ErrPasswordTooLong
	}
	return nil
}
