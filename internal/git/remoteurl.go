package git

import (
	"net/url"
	"strings"
)

// normalizeRemoteURL returns "<host>/<path>" of a remote URL in lowercase,
// without a ".git" suffix and without user information.
// Besides URLs, the scp-like syntax "[user@]host:path" is supported.
func normalizeRemoteURL(remoteURL string) string {
	s := strings.TrimSpace(remoteURL)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		return strings.ToLower(u.Hostname() + "/" + strings.Trim(u.Path, "/"))
	}

	if host, path, found := strings.Cut(s, ":"); found {
		if _, h, hasUser := strings.Cut(host, "@"); hasUser {
			host = h
		}

		return strings.ToLower(host + "/" + strings.Trim(path, "/"))
	}

	return strings.ToLower(s)
}

// SameRepository returns true if both remote URLs refer to the same
// repository, independent of the transport protocol.
func SameRepository(a, b string) bool {
	return normalizeRemoteURL(a) == normalizeRemoteURL(b)
}
