package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/x"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/x"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterUnlimitedWhenRateUnset(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(ctx, "https://example.com"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}
