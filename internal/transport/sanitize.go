package transport

import (
	"net/url"
	"strings"
)

// SanitizeDestination strips secrets from a destination for logs and storage.
// URLs keep only scheme and host; mail addresses keep the first letter of the
// local part and the domain.
func SanitizeDestination(dest string) string {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return ""
	}

	if at := strings.LastIndex(dest, "@"); at > 0 && !strings.Contains(dest, "://") {
		return dest[:1] + "***" + dest[at:]
	}

	u, err := url.Parse(dest)
	if err != nil || u.Host == "" {
		return "[invalid]"
	}
	return u.Scheme + "://" + u.Host
}
