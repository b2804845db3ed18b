// Package cache provides an optional read-through Redis cache for
// prediction lookups on the serve path. A cache miss or a Redis outage
// falls through to the store; the cache never affects correctness.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadsignal/intent-cli/internal/model"
)

const keyPrefix = "intent:"

// PredictionCache caches stored predictions keyed by (org, company).
// Entries expire alongside the prediction itself.
type PredictionCache struct {
	client *redis.Client

	now func() time.Time
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*PredictionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "cache: ping redis")
	}
	return &PredictionCache{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (c *PredictionCache) Close() error {
	return c.client.Close()
}

func predictionKey(orgID, companyID string) string {
	return fmt.Sprintf("%sprediction:%s:%s", keyPrefix, orgID, companyID)
}

// GetPrediction returns the cached prediction, or nil on a miss or any
// Redis error. Errors are logged at debug; the caller reads the store.
func (c *PredictionCache) GetPrediction(ctx context.Context, companyID, orgID string) *model.Prediction {
	data, err := c.client.Get(ctx, predictionKey(orgID, companyID)).Result()
	if err != nil {
		if err != redis.Nil {
			zap.L().Debug("cache: prediction read failed", zap.Error(err))
		}
		return nil
	}

	var p model.Prediction
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		zap.L().Debug("cache: corrupt prediction entry", zap.Error(err))
		return nil
	}
	return &p
}

// SetPrediction stores a prediction with a TTL matching its expiry, so
// the cache can never serve an expired prediction the store would
// refuse to. Already-expired predictions are not cached.
func (c *PredictionCache) SetPrediction(ctx context.Context, p *model.Prediction) {
	ttl := p.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(p)
	if err != nil {
		zap.L().Debug("cache: marshal prediction", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, predictionKey(p.OrgID, p.CompanyID), data, ttl).Err(); err != nil {
		zap.L().Debug("cache: prediction write failed", zap.Error(err))
	}
}

// InvalidatePrediction drops the cached entry after a re-score.
func (c *PredictionCache) InvalidatePrediction(ctx context.Context, companyID, orgID string) {
	if err := c.client.Del(ctx, predictionKey(orgID, companyID)).Err(); err != nil {
		zap.L().Debug("cache: prediction invalidate failed", zap.Error(err))
	}
}
