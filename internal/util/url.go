package util

import (
	"net/url"
	"strings"
)

// NormaliseURL canonicalises a URL for join purposes: trims surrounding
// whitespace, lowercases, keeps scheme://host/path, drops the query string
// and fragment, and strips all trailing slashes from the path.
// Empty or unparseable input passes through unchanged so callers can keep
// whatever identity the upstream source reported.
func NormaliseURL(rawURL string) string {
	trimmed := strings.ToLower(strings.TrimSpace(rawURL))
	if trimmed == "" {
		return rawURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return rawURL
	}

	path := parsed.EscapedPath()
	path = strings.TrimRight(path, "/")

	return parsed.Scheme + "://" + parsed.Host + path
}

// NormaliseDomain removes the scheme, www. prefix and trailing slash from a
// domain so different input formats compare equal.
func NormaliseDomain(domain string) string {
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "www.")
	domain = strings.TrimSuffix(domain, "/")

	return domain
}

// SiteRootURL builds the canonical https root URL for a site from whatever
// form the configuration provided.
func SiteRootURL(site string) string {
	return "https://" + NormaliseDomain(strings.TrimSpace(site))
}
