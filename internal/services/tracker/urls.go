package tracker

import "strings"

// DefaultBaseURL is the fallback tracker host used when no base URL is
// configured or supplied.
const DefaultBaseURL = "https://rutracker.me"

// NormalizeCoverURL rewrites a cover URL scraped from a topic page into
// absolute form. Relative cover URLs must never reach the cache:
//
//   - absolute http(s) URLs pass through unchanged
//   - scheme-relative "//host/path" resolves to https
//   - root-relative "/path" is prefixed with the active base URL
//   - bare relative paths are joined to the base URL with a single slash
func NormalizeCoverURL(raw, base string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}

	b := NormalizeBaseURL(base)
	if strings.HasPrefix(raw, "/") {
		return b + raw
	}
	return b + "/" + raw
}

// NormalizeBaseURL trims trailing slashes and defaults the scheme to https.
// An empty base falls back to DefaultBaseURL.
func NormalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return DefaultBaseURL
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return base
}
