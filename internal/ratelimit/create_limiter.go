package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payflow/internal/config"
)

const keyCreateIntent = "payflow:create:%s"

// CreateIntentLimiter bounds how fast a single client can open new
// payment intents. Disabled entirely when no redis address is configured;
// a disabled limiter allows everything.
type CreateIntentLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewCreateIntentLimiter(cfg config.Config) *CreateIntentLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" || cfg.CreateRatePerSec <= 0 || cfg.CreateRateBurst <= 0 {
		return &CreateIntentLimiter{}
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	return &CreateIntentLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    cfg.CreateRatePerSec,
		burst:   cfg.CreateRateBurst,
	}
}

func (l *CreateIntentLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *CreateIntentLimiter) Allow(ctx context.Context, clientKey string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCreateIntent, clientKey), l.rate, l.burst)
}
