// Package hostutil provides shared utilities for API host URL handling.
package hostutil

import (
	"net/url"
	"strings"
)

// Normalize converts a host string to a full base URL.
// - Empty string returns empty
// - localhost/127.0.0.1 defaults to http://
// - Other bare hostnames default to https://
// - Full URLs are used as-is, minus any trailing slash
func Normalize(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	host = strings.TrimRight(host, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if IsLocalhost(host) {
		return "http://" + host
	}
	return "https://" + host
}

// Origin returns scheme://host[:port] for a base URL. Credentials are keyed by
// origin so that every path prefix on the same API shares one session.
func Origin(baseURL string) string {
	u, err := url.Parse(Normalize(baseURL))
	if err != nil || u.Host == "" {
		return strings.TrimRight(baseURL, "/")
	}
	return u.Scheme + "://" + u.Host
}

// IsLocalhost returns true if host is localhost, a .localhost subdomain,
// 127.0.0.1, or [::1] (with optional port).
func IsLocalhost(host string) bool {
	hostWithoutPort := host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		// Bracketed IPv6 without a port has no port to strip
		if !strings.HasPrefix(host, "[") || strings.HasPrefix(host, "[::1]:") {
			hostWithoutPort = host[:idx]
		}
	}

	if hostWithoutPort == "localhost" || strings.HasSuffix(hostWithoutPort, ".localhost") {
		return true
	}
	return hostWithoutPort == "127.0.0.1" || hostWithoutPort == "[::1]"
}
