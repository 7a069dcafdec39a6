// Package urlutil normalizes the base URLs and mount paths shared by the
// walker and the courseware server.
package urlutil

import (
	"net/http"
	"strings"
)

// NormalizeBase trims whitespace and trailing slashes from a scheme://host
// base so paths can be appended directly.
func NormalizeBase(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}

// NormalizeMountPath returns p with exactly one leading slash and no
// trailing slash. The root mount is the empty string.
func NormalizeMountPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// Join appends path to base, adding a slash between them when needed.
// Absolute http(s) paths are returned unchanged.
func Join(base, path string) string {
	base = NormalizeBase(base)
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return base + path
	}
	return base + "/" + path
}

// RequestScheme is "https" when the request arrived over TLS or a proxy
// says it did through X-Forwarded-Proto.
func RequestScheme(r *http.Request) string {
	proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))
	if proto != "" {
		if comma := strings.Index(proto, ","); comma >= 0 {
			proto = strings.TrimSpace(proto[:comma])
		}
		if proto == "http" || proto == "https" {
			return proto
		}
	}

	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// IsSecure reports whether cookies set on r's response should be Secure.
func IsSecure(r *http.Request) bool {
	return RequestScheme(r) == "https"
}
