package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxIdentityIDLength = 128
	MaxDisplayNameRunes = 100
)

// IdentityIDRegex accepts numeric IDs, UUIDs and simple slugs.
var IdentityIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateIdentityID validates an identity reference taken from a client.
func ValidateIdentityID(id string) error {
	if id == "" {
		return fmt.Errorf("identity ID is required")
	}
	if len(id) > MaxIdentityIDLength {
		return fmt.Errorf("identity ID is too long (max %d characters)", MaxIdentityIDLength)
	}
	if !IdentityIDRegex.MatchString(id) {
		return fmt.Errorf("invalid identity ID format")
	}
	return nil
}

// ValidateDisplayName validates a human readable name from the contact store.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameRunes {
		return fmt.Errorf("display name is too long (max %d characters)", MaxDisplayNameRunes)
	}
	return nil
}

// ValidateOrigin checks a browser Origin header against an allow list.
// "*" allows everything; an empty origin (non-browser client) is accepted.
func ValidateOrigin(origin string, allowed []string) error {
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid origin %q", origin)
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
			return nil
		}
	}
	return fmt.Errorf("origin %q is not allowed", origin)
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
