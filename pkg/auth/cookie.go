package auth

import (
	"net/url"
	"strings"
)

// CookieSettings contains cookie security settings derived from base URL.
type CookieSettings struct {
	// Secure indicates whether the cookie should only be sent over HTTPS.
	Secure bool
	// Domain is the cookie domain scope (e.g., ".chemforge.io" for cross-subdomain sharing).
	Domain string
}

// DeriveCookieSettings determines cookie security settings from base URL:
//   - localhost (http://localhost:3443) → Secure: false, Domain: ""
//   - hosted (https://eu.app.chemforge.io) → Secure: true, Domain: ".chemforge.io"
//   - anything else → Secure from scheme, Domain: "" (host-only)
//
// The configCookieDomain parameter allows explicit override.
func DeriveCookieSettings(baseURL string, configCookieDomain string) CookieSettings {
	if configCookieDomain != "" {
		return CookieSettings{
			Secure: isHTTPS(baseURL),
			Domain: configCookieDomain,
		}
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		return CookieSettings{Secure: true, Domain: ""}
	}

	hostname := parsedURL.Hostname()
	var domain string
	if strings.HasSuffix(hostname, ".chemforge.io") {
		domain = ".chemforge.io"
	}

	return CookieSettings{
		Secure: parsedURL.Scheme != "http",
		Domain: domain,
	}
}

// isHTTPS determines if the given base URL uses HTTPS protocol.
// Returns true for HTTPS, false for HTTP, true for empty/invalid URLs.
func isHTTPS(baseURL string) bool {
	if baseURL == "" {
		return true
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return true
	}

	return parsedURL.Scheme != "http"
}
