// Package globmatch implements the tool-name glob semantics shared by the
// Catalog Resolver and the Authorization Engine: "*" matches
// any run of characters including dots; every other regex metacharacter is
// escaped literally; an empty pattern matches nothing; "*" alone matches
// everything.
package globmatch

import (
	"regexp"
	"strings"
	"sync"
)

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*regexp.Regexp)
)

// Match reports whether name matches glob pattern.
func Match(pattern, name string) bool {
	if pattern == "" {
		return false
	}
	re := compile(pattern)
	return re.MatchString(name)
}

// MatchAny reports whether name matches any of patterns, returning the
// first matching pattern for use as an authorization reason.
func MatchAny(patterns []string, name string) (matched bool, pattern string) {
	for _, p := range patterns {
		if Match(p, name) {
			return true, p
		}
	}
	return false, ""
}

func compile(pattern string) *regexp.Regexp {
	cacheMu.RLock()
	re, ok := cache[pattern]
	cacheMu.RUnlock()
	if ok {
		return re
	}

	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		if r == '*' {
			b.WriteString(".*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteByte('$')

	re = regexp.MustCompile(b.String())

	cacheMu.Lock()
	cache[pattern] = re
	cacheMu.Unlock()
	return re
}
