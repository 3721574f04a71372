package validation

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// urlUnsafe are characters a platform opener could hand to a shell.
const urlUnsafe = ";&|`$()<>\"'\\ \t\r\n"

// ValidateURL checks a preview address before it is passed to the system
// browser opener. Only plain http(s) URLs with a host and an optional
// numeric port are accepted; credentials and fragments are refused.
func ValidateURL(rawURL string) error {
	if i := strings.IndexAny(rawURL, urlUnsafe); i >= 0 {
		return fmt.Errorf("URL contains dangerous character: %q", rawURL[i])
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("invalid URL scheme: %q (only http/https allowed)", parsed.Scheme)
	}

	if parsed.User != nil {
		return fmt.Errorf("URL must not carry credentials")
	}
	if parsed.Fragment != "" {
		return fmt.Errorf("URL must not carry a fragment")
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	if port := parsed.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("URL port out of range: %s", port)
		}
	}

	return nil
}
