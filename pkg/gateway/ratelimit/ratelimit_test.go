package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLive_EnforcesPerClientLimit(t *testing.T) {
	l := New(Config{MaxLivePerClient: 1})
	now := time.Now()

	first := l.AcquireLive("10.0.0.1", now)
	require.True(t, first.Allowed)
	require.NotNil(t, first.Permit)

	assert.False(t, l.AcquireLive("10.0.0.1", now).Allowed)
	assert.True(t, l.AcquireLive("10.0.0.2", now).Allowed, "limits are per client")

	first.Permit.Release()
	first.Permit.Release()
	assert.True(t, l.AcquireLive("10.0.0.1", now).Allowed)
}

func TestAcquireRequest_TokenBucket(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2})
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.True(t, l.AcquireRequest("c", now).Allowed)
	assert.True(t, l.AcquireRequest("c", now).Allowed)
	denied := l.AcquireRequest("c", now)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 1, denied.RetryAfter)

	assert.True(t, l.AcquireRequest("c", now.Add(time.Second)).Allowed, "one token refills per second")
}

func TestAcquireRequest_ConcurrencyCap(t *testing.T) {
	l := New(Config{MaxConcurrentRequests: 1})
	now := time.Now()

	d := l.AcquireRequest("c", now)
	require.True(t, d.Allowed)
	assert.False(t, l.AcquireRequest("c", now).Allowed)
	d.Permit.Release()
	assert.True(t, l.AcquireRequest("c", now).Allowed)
}

func TestNilLimiterAdmitsEverything(t *testing.T) {
	var l *Limiter
	d := l.AcquireRequest("c", time.Now())
	assert.True(t, d.Allowed)
	d.Permit.Release()
	assert.True(t, l.AcquireLive("c", time.Now()).Allowed)
	assert.Zero(t, l.Len())
}

func TestEntriesStayBounded(t *testing.T) {
	l := New(Config{MaxEntries: 2, EntryTTL: time.Minute})
	now := time.Now()
	l.AcquireRequest("a", now)
	l.AcquireRequest("b", now)
	l.AcquireRequest("c", now.Add(2*time.Minute))
	assert.LessOrEqual(t, l.Len(), 2)
}

func TestKeys(t *testing.T) {
	a := KeyFromAPIKey("secret")
	assert.Equal(t, a, KeyFromAPIKey("secret"))
	assert.NotContains(t, a, "secret")
	assert.NotEqual(t, a, KeyFromAPIKey("other"))
	assert.Equal(t, "ip_192.0.2.7", KeyFromIP("192.0.2.7"))
}
