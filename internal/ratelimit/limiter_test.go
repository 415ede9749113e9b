package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	now := start
	l := New()
	l.nowFn = func() time.Time { return now }
	return l, &now
}

func TestAllowWithinWindow(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(time.Now())
	for i := 0; i < WindowRequests; i++ {
		ok, _ := l.Allow("1.2.3.4")
		require.True(t, ok, "request %d should be allowed", i)
	}

	ok, retryAfter := l.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Positive(t, retryAfter)
}

func TestAllowIsolatedPerIP(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(time.Now())
	for i := 0; i < WindowRequests; i++ {
		ok, _ := l.Allow("1.1.1.1")
		require.True(t, ok)
	}

	ok, _ := l.Allow("2.2.2.2")
	assert.True(t, ok)
}

func TestRecordFailureEngagesBackoffAtThreshold(t *testing.T) {
	t.Parallel()

	l, now := newTestLimiter(time.Now())
	for i := 0; i < FailureThreshold; i++ {
		l.RecordFailure("9.9.9.9")
	}

	ok, retryAfter := l.Allow("9.9.9.9")
	assert.False(t, ok)
	assert.Positive(t, retryAfter)

	*now = now.Add(WindowDuration * 2)
	ok, _ = l.Allow("9.9.9.9")
	assert.True(t, ok)
}

func TestRecordSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(time.Now())
	for i := 0; i < FailureThreshold; i++ {
		l.RecordFailure("9.9.9.9")
	}
	l.RecordSuccess("9.9.9.9")

	st := l.byIP["9.9.9.9"]
	require.NotNil(t, st)
	assert.Equal(t, 0, st.consecutiveFails)
}

func TestReapRemovesStaleEntries(t *testing.T) {
	t.Parallel()

	l, now := newTestLimiter(time.Now())
	l.Allow("1.2.3.4")
	*now = now.Add(StaleEntryAge + time.Minute)
	l.Reap()

	_, ok := l.byIP["1.2.3.4"]
	assert.False(t, ok)
}
