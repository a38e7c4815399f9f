// Package cache provides a Redis-backed read cache for the latest risk state
// of each caregiver/user pair. Reads tolerate cache failures; the store is
// always authoritative.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/safeguard"
	"github.com/caresentry/caregiver-safeguard-backend/internal/infrastructure/config"
)

// ErrCacheMiss is returned when no cached entry exists for the pair.
var ErrCacheMiss = errors.New("cache miss")

// RiskState is the cached summary of a pair's most recent assessment.
type RiskState struct {
	AssessmentID uuid.UUID           `json:"assessment_id"`
	Score        int                 `json:"score"`
	Level        safeguard.RiskLevel `json:"level"`
	AssessedAt   time.Time           `json:"assessed_at"`
}

// RiskCache caches per-pair risk state in Redis.
type RiskCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRiskCache connects to Redis and verifies the connection.
func NewRiskCache(cfg *config.RedisConfig, logger *zap.Logger) (*RiskCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("risk cache initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB),
		zap.Duration("ttl", cfg.RiskCacheTTL))

	return &RiskCache{
		client: client,
		ttl:    cfg.RiskCacheTTL,
		logger: logger,
	}, nil
}

// NewRiskCacheWithClient wraps an existing client; used in tests.
func NewRiskCacheWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RiskCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached risk state for a pair, or ErrCacheMiss.
func (c *RiskCache) Get(ctx context.Context, caregiverID, userID uuid.UUID) (*RiskState, error) {
	raw, err := c.client.Get(ctx, riskKey(caregiverID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		c.logger.Error("risk cache get failed",
			zap.String("caregiver_id", caregiverID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("risk cache get failed: %w", err)
	}

	var state RiskState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("risk cache decode failed: %w", err)
	}
	return &state, nil
}

// Store caches the risk state derived from a fresh assessment.
func (c *RiskCache) Store(ctx context.Context, assessment *safeguard.Assessment) error {
	state := RiskState{
		AssessmentID: assessment.ID,
		Score:        assessment.Score,
		Level:        assessment.Level,
		AssessedAt:   assessment.AssessedAt,
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("risk cache encode failed: %w", err)
	}

	key := riskKey(assessment.CaregiverID, assessment.UserID)
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Error("risk cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("risk cache set failed: %w", err)
	}
	return nil
}

// Invalidate drops the cached state for a pair.
func (c *RiskCache) Invalidate(ctx context.Context, caregiverID, userID uuid.UUID) error {
	if err := c.client.Del(ctx, riskKey(caregiverID, userID)).Err(); err != nil {
		return fmt.Errorf("risk cache delete failed: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RiskCache) Close() error {
	return c.client.Close()
}

func riskKey(caregiverID, userID uuid.UUID) string {
	return fmt.Sprintf("safeguard:risk:%s:%s", caregiverID, userID)
}
