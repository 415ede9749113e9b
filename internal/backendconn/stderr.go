package backendconn

import (
	"regexp"
	"sync"
)

// secretPatterns matches known secret shapes so stderr capture never leaks
// credentials into operator-visible diagnostics.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{10,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{10,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`(?i)([A-Za-z0-9_\-]*(?:key|token|secret|password)[A-Za-z0-9_\-]*)\s*=\s*\S+`),
}

const redactedPlaceholder = "[REDACTED]"

// redactSecrets scrubs known secret shapes out of a stderr chunk.
func redactSecrets(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

const maxStderrChunk = 500

// stderrRing is a bounded, thread-safe ring buffer of redacted stderr
// chunks, kept for operator inspection via getHealthDetail-adjacent admin
// endpoints.
type stderrRing struct {
	mu      sync.Mutex
	entries []string
	next    int
	full    bool
}

func newStderrRing() *stderrRing {
	return &stderrRing{entries: make([]string, MaxStderrRingEntries)}
}

// push redacts and truncates chunk, then appends it to the ring.
func (r *stderrRing) push(chunk string) {
	chunk = redactSecrets(chunk)
	if len(chunk) > maxStderrChunk {
		chunk = chunk[:maxStderrChunk]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = chunk
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the buffered entries in insertion order (oldest first).
func (r *stderrRing) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]string, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]string, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
