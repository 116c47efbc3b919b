package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/tillpoint/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledPaymentLimiterAllows(t *testing.T) {
	limiter, err := NewPaymentLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowInitiate(context.Background(), "tenant-a", "254712345678")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	var nilLimiter *PaymentLimiter
	res, err = nilLimiter.AllowInitiate(context.Background(), "tenant-a", "254712345678")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEvaluateComputesRetryAfter(t *testing.T) {
	res := evaluate(false, 0.5, 0.25, 3)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, 2*time.Second, res.RetryAfter)

	res = evaluate(true, 2.7, 0.25, 3)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
	assert.Zero(t, res.RetryAfter)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 24*time.Second, defaultBucketTTL(0.25, 3))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 0))
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, int64(7), castToInt("7"))
	assert.InDelta(t, 1.5, castToFloat("1.5"), 0.0001)
	assert.InDelta(t, 2.0, castToFloat(int64(2)), 0.0001)
}

func TestNilLockerRejectsLock(t *testing.T) {
	var locker *Locker
	lease, err := locker.Acquire(context.Background(), "scheduler:pending_payment_timeout", time.Second)
	assert.Nil(t, lease)
	assert.ErrorIs(t, err, ErrLockerUnavailable)
	assert.NoError(t, lease.Release(context.Background()))
	assert.Empty(t, lease.Key())
}

func TestLockKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "tillpoint:lock:scheduler:payment_sale_repair", LockKey(" scheduler:payment_sale_repair "))
}
