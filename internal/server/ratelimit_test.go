package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock returns a limiter clock starting at noon and a function to advance it.
func fakeClock(rl *RateLimiter) func(time.Duration) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 100, 1000, 1024*1024)

	assert.NotNil(t, rl)
	assert.Equal(t, 10, rl.requestsPerMinute)
	assert.Equal(t, 100, rl.requestsPerHour)
	assert.Equal(t, 1000, rl.maxRequestsPerDay)
	assert.Equal(t, int64(1024*1024), rl.maxDataPerDay)
	assert.NotNil(t, rl.clients)
}

func TestRateLimiter_CheckRateLimit_NoLimits(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 0)

	for range 100 {
		require.NoError(t, rl.CheckRateLimit("client1", 100))
	}

	usage := rl.GetUsage("client1")
	assert.Equal(t, 100, usage.DayRequests)
	assert.Equal(t, int64(10000), usage.DayBytes)
}

func TestRateLimiter_CheckRateLimit_RequestsPerMinute(t *testing.T) {
	rl := NewRateLimiter(2, 0, 0, 0)
	advance := fakeClock(rl)

	require.NoError(t, rl.CheckRateLimit("client1", 0))
	advance(10 * time.Second)
	require.NoError(t, rl.CheckRateLimit("client1", 0))

	err := rl.CheckRateLimit("client1", 0)
	require.Error(t, err)

	var rateLimitErr *RateLimitError
	require.True(t, errors.As(err, &rateLimitErr))
	assert.Equal(t, "minute", rateLimitErr.Type)
	assert.Equal(t, 2, rateLimitErr.Limit)
	assert.Equal(t, 50*time.Second, rateLimitErr.RetryAfter)

	// Other clients are unaffected
	assert.NoError(t, rl.CheckRateLimit("client2", 0))

	advance(50 * time.Second)
	assert.NoError(t, rl.CheckRateLimit("client1", 0))
}

func TestRateLimiter_CheckRateLimit_RequestsPerHour(t *testing.T) {
	rl := NewRateLimiter(0, 3, 0, 0)
	advance := fakeClock(rl)

	for range 3 {
		require.NoError(t, rl.CheckRateLimit("client1", 0))
		advance(5 * time.Minute)
	}

	err := rl.CheckRateLimit("client1", 0)
	var rateLimitErr *RateLimitError
	require.True(t, errors.As(err, &rateLimitErr))
	assert.Equal(t, "hour", rateLimitErr.Type)
	assert.Equal(t, 45*time.Minute, rateLimitErr.RetryAfter)

	advance(45 * time.Minute)
	assert.NoError(t, rl.CheckRateLimit("client1", 0))
}

func TestRateLimiter_CheckRateLimit_MaxRequestsPerDay(t *testing.T) {
	rl := NewRateLimiter(0, 0, 2, 0)
	advance := fakeClock(rl)

	require.NoError(t, rl.CheckRateLimit("client1", 0))
	require.NoError(t, rl.CheckRateLimit("client1", 0))

	err := rl.CheckRateLimit("client1", 0)
	var quotaErr *QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, "requests", quotaErr.Type)
	assert.Equal(t, int64(2), quotaErr.Limit)
	assert.Equal(t, int64(2), quotaErr.Used)
	assert.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC), quotaErr.Resets)

	// Quota resets at midnight
	advance(12 * time.Hour)
	assert.NoError(t, rl.CheckRateLimit("client1", 0))
	assert.Equal(t, 1, rl.GetUsage("client1").DayRequests)
}

func TestRateLimiter_CheckRateLimit_MaxDataPerDay(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 1000)
	fakeClock(rl)

	require.NoError(t, rl.CheckRateLimit("client1", 600))

	err := rl.CheckRateLimit("client1", 500)
	var quotaErr *QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, "data", quotaErr.Type)
	assert.Equal(t, int64(600), quotaErr.Used)

	// A rejected request is not counted
	assert.Equal(t, int64(600), rl.GetUsage("client1").DayBytes)
	assert.NoError(t, rl.CheckRateLimit("client1", 400))
}

func TestRateLimiter_GetUsage_UnknownClient(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1, 1)
	assert.Equal(t, ClientUsage{}, rl.GetUsage("nobody"))
}

func TestRateLimitErrors_Messages(t *testing.T) {
	rateErr := &RateLimitError{Type: "minute", Limit: 5, RetryAfter: 30 * time.Second}
	assert.Equal(t, "rate limit exceeded for minute (limit: 5, retry after: 30s)", rateErr.Error())

	resets := time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC)
	quotaErr := &QuotaExceededError{Type: "data", Limit: 100, Used: 90, Resets: resets}
	assert.Equal(t, "quota exceeded for data (used: 90, limit: 100, resets: 2026-03-11T00:00:00Z)", quotaErr.Error())
}
