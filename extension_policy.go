package resourcekit

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultDenyPatterns refuse server side executable names.
var DefaultDenyPatterns = []string{
	"*.{php,php3,php4,php5,php6,php7,php8,phpsh,phtml,pht,phar,shtml,cgi}",
	"*.{php,php3,php4,php5,php6,php7,php8,phpsh,phtml,pht,phar,shtml,cgi}.*",
	"*.pl",
	".htaccess",
}

// ExtensionPolicy is a deny list of file name patterns, matched case
// insensitively against the whole name.
type ExtensionPolicy struct {
	patterns []string
	globs    []glob.Glob
}

// NewExtensionPolicy compiles the given glob patterns.
func NewExtensionPolicy(patterns ...string) (*ExtensionPolicy, error) {
	p := &ExtensionPolicy{}
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		g, err := glob.Compile(strings.ToLower(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: deny pattern %q: %w", ErrInvalidArgument, raw, err)
		}
		p.patterns = append(p.patterns, raw)
		p.globs = append(p.globs, g)
	}
	return p, nil
}

// DefaultExtensionPolicy returns the policy built from DefaultDenyPatterns.
func DefaultExtensionPolicy() *ExtensionPolicy {
	p, err := NewExtensionPolicy(DefaultDenyPatterns...)
	if err != nil {
		panic(err)
	}
	return p
}

// Patterns returns the configured patterns.
func (p *ExtensionPolicy) Patterns() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.patterns...)
}

// Allows reports whether name passes the policy. A nil policy allows all.
func (p *ExtensionPolicy) Allows(name string) bool {
	if p == nil {
		return true
	}
	lower := strings.ToLower(name)
	for _, g := range p.globs {
		if g.Match(lower) {
			return false
		}
	}
	return true
}
