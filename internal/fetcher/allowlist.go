package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// HostAllowList matches hostnames against glob patterns such as
// "auctions.example.jp" or "*.example.com". "*" does not cross a dot; use
// "**" to match any depth. An empty list allows no host; "**" alone allows
// every host.
type HostAllowList struct {
	patterns []string
	globs    []glob.Glob
}

// NewHostAllowList compiles the patterns. Blank entries are skipped.
func NewHostAllowList(patterns []string) (*HostAllowList, error) {
	l := &HostAllowList{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("compile host pattern %q: %w", p, err)
		}
		l.patterns = append(l.patterns, p)
		l.globs = append(l.globs, g)
	}
	return l, nil
}

// Allows reports whether host matches any pattern.
func (l *HostAllowList) Allows(host string) bool {
	if l == nil {
		return false
	}
	host = strings.ToLower(host)
	for _, g := range l.globs {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// Patterns returns the compiled patterns.
func (l *HostAllowList) Patterns() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.patterns...)
}

// ValidateTarget parses rawURL and checks it is an absolute http(s) URL on an
// allowed host. Errors wrap ErrInvalidTarget.
func ValidateTarget(rawURL string, allow *HostAllowList) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidTarget, rawURL)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidTarget, rawURL)
	}
	if !allow.Allows(u.Hostname()) {
		return nil, fmt.Errorf("%w: host %s not allowed", ErrInvalidTarget, u.Hostname())
	}
	return u, nil
}
