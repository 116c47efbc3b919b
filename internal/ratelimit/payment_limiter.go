package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tillpoint/internal/config"
)

const keyPaymentInitiatePhone = "payment:initiate:%s:%s"

// PaymentLimiter throttles STK pushes per tenant and phone so a cashier
// cannot flood a customer's handset with prompts.
type PaymentLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewPaymentLimiter(cfg config.Config, client *redis.Client) (*PaymentLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return &PaymentLimiter{}, nil
	}
	if limitCfg.PaymentInitiateRate <= 0 || limitCfg.PaymentInitiateBurst <= 0 {
		return nil, errors.New("payment initiate rate limit must be positive")
	}
	return &PaymentLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.PaymentInitiateRate,
		burst:   limitCfg.PaymentInitiateBurst,
	}, nil
}

func (l *PaymentLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *PaymentLimiter) AllowInitiate(ctx context.Context, tenantID, phone string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyPaymentInitiatePhone, strings.TrimSpace(tenantID), strings.TrimSpace(phone))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
