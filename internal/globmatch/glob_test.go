package globmatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcpambassador/server/internal/globmatch"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"fs.*", "fs.read_file", true},
		{"fs.*", "net.fetch", false},
		{"*", "anything.at.all", true},
		{"", "anything", false},
		{"fs.read_file", "fs.read_file", true},
		{"fs.read_file", "fs.read_files", false},
		{"a.b.c", "a.b.c", true},
		{"a.*.c", "a.x.y.c", true},
	}

	for _, tc := range cases {
		got := globmatch.Match(tc.pattern, tc.name)
		assert.Equalf(t, tc.want, got, "Match(%q, %q)", tc.pattern, tc.name)
	}
}

func TestMatchAnyReturnsFirstMatchingPattern(t *testing.T) {
	t.Parallel()

	matched, pattern := globmatch.MatchAny([]string{"db.*", "fs.*"}, "fs.read_file")
	assert.True(t, matched)
	assert.Equal(t, "fs.*", pattern)

	matched, _ = globmatch.MatchAny([]string{"db.*"}, "fs.read_file")
	assert.False(t, matched)
}

func TestMatchAnyEmptyPatternsNeverMatch(t *testing.T) {
	t.Parallel()

	matched, _ := globmatch.MatchAny(nil, "anything")
	assert.False(t, matched)
}
