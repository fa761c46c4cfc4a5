package site

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrInvalidOrigin marks inputs that do not map to a registrable site.
var ErrInvalidOrigin = errors.New("reporting origin is not a valid site")

// Resolve maps an origin or URL onto its site: the https scheme plus the
// registrable domain (eTLD+1) of the host. Port, path, query and
// userinfo are dropped; http and scheme-less inputs normalize to https;
// the host is lowercased. IP literals and bare public suffixes fail.
func Resolve(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty origin: %w", ErrInvalidOrigin)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("origin %q: %v: %w", raw, err, ErrInvalidOrigin)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("origin %q: scheme %q: %w", raw, u.Scheme, ErrInvalidOrigin)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return "", fmt.Errorf("origin %q has no host: %w", raw, ErrInvalidOrigin)
	}
	if net.ParseIP(host) != nil {
		return "", fmt.Errorf("origin %q: IP literals have no site: %w", raw, ErrInvalidOrigin)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("origin %q: %v: %w", raw, err, ErrInvalidOrigin)
	}
	return "https://" + domain, nil
}

// SameSite reports whether two origins resolve to the same site. An
// unresolvable input never matches anything.
func SameSite(a, b string) bool {
	sa, err := Resolve(a)
	if err != nil {
		return false
	}
	sb, err := Resolve(b)
	if err != nil {
		return false
	}
	return sa == sb
}
