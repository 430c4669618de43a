package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const keyPrefix = "clustertalk:ratelimit"

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitService enforces a sliding-window request limit per client
// using a Redis sorted set of request timestamps.
type RateLimitService struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(client *redis.Client, cfg config.RateLimitConfig, logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		client: client,
		limit:  cfg.Requests,
		window: cfg.Window,
		logger: logger,
	}
}

// CheckLimit admits the request when fewer than the configured number of
// requests were admitted for subject within the window, and records it.
func (s *RateLimitService) CheckLimit(ctx context.Context, subject string) (*RateLimitResult, error) {
	ctx, span := observability.StartSpan(ctx, "ratelimit.check",
		attribute.Int("ratelimit.limit", s.limit),
		attribute.Int64("ratelimit.window_ms", s.window.Milliseconds()))
	defer span.End()

	key := s.buildScopeKey(subject)
	now := time.Now()
	windowStart := now.Add(-s.window)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read rate limit window: %w", err)
	}

	count := int(countCmd.Val())
	if count >= s.limit {
		resetAt := now.Add(s.window)
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(s.window)
		}
		span.SetAttributes(attribute.Bool("ratelimit.allowed", false))
		return &RateLimitResult{Allowed: false, Limit: s.limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	pipe = s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, key, s.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to record request: %w", err)
	}

	span.SetAttributes(attribute.Bool("ratelimit.allowed", true))
	return &RateLimitResult{
		Allowed:   true,
		Limit:     s.limit,
		Remaining: s.limit - count - 1,
		ResetAt:   now.Add(s.window),
	}, nil
}

// Ping checks the Redis connection.
func (s *RateLimitService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// buildScopeKey builds a unique key for the rate limit scope
func (s *RateLimitService) buildScopeKey(subject string) string {
	if subject == "" {
		subject = "anonymous"
	}
	return keyPrefix + ":" + subject
}
