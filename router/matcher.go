// Package router resolves endpoint URIs against registered patterns.
//
// A URI has the form scheme:path, for example direct:orders.created. The
// scheme is matched literally unless the pattern uses "*". The path is split
// on the separator ("." by default) and each pattern segment is either a
// literal, "*" or "+" for exactly one segment, or "#" for zero or more.
package router

import "strings"

const (
	wildOne  = "*"
	wildAlt  = "+"
	wildMany = "#"
)

// Matcher reports whether uri satisfies pattern.
type Matcher func(pattern, uri string) bool

// MatcherOptions configures NewMatcher.
type MatcherOptions struct {
	// Separator splits the path part of a URI. Defaults to ".".
	Separator string
	// IgnoreScheme matches the path only.
	IgnoreScheme bool
}

// NewMatcher returns a Matcher for the given options.
func NewMatcher(opts ...MatcherOptions) Matcher {
	o := MatcherOptions{Separator: "."}
	if len(opts) > 0 {
		o.IgnoreScheme = opts[0].IgnoreScheme
		if opts[0].Separator != "" {
			o.Separator = opts[0].Separator
		}
	}

	return func(pattern, uri string) bool {
		if pattern == uri {
			return true
		}
		pScheme, pPath := SplitURI(pattern)
		uScheme, uPath := SplitURI(uri)
		if !o.IgnoreScheme && pScheme != wildOne && pScheme != uScheme {
			return false
		}
		return matchSegments(split(pPath, o.Separator), split(uPath, o.Separator))
	}
}

// DefaultMatcher uses "." as separator and compares schemes.
var DefaultMatcher = NewMatcher()

// SplitURI returns the scheme and path of uri. A URI without ":" has an
// empty scheme.
func SplitURI(uri string) (scheme, path string) {
	if i := strings.IndexByte(uri, ':'); i >= 0 {
		return uri[:i], uri[i+1:]
	}
	return "", uri
}

// IsPattern reports whether pattern holds any wildcard segment.
func IsPattern(pattern string, separator string) bool {
	scheme, path := SplitURI(pattern)
	if scheme == wildOne {
		return true
	}
	for _, seg := range split(path, separator) {
		if isWildcard(seg) {
			return true
		}
	}
	return false
}

func isWildcard(seg string) bool {
	return seg == wildOne || seg == wildAlt || seg == wildMany
}

func split(path, sep string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, sep)
}

// matchSegments walks pattern against topic keeping, for every prefix of
// pattern, which prefixes of topic it can cover.
func matchSegments(pattern, topic []string) bool {
	prev := make([]bool, len(topic)+1)
	cur := make([]bool, len(topic)+1)
	prev[0] = true

	for _, seg := range pattern {
		cur[0] = seg == wildMany && prev[0]
		for j := 1; j <= len(topic); j++ {
			switch seg {
			case wildMany:
				cur[j] = prev[j] || cur[j-1]
			case wildOne, wildAlt:
				cur[j] = prev[j-1]
			default:
				cur[j] = prev[j-1] && seg == topic[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(topic)]
}
