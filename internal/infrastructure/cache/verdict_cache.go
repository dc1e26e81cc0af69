package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/values"
)

const verdictPrefix = "outreach:verdict:"

// VerdictCache keeps the most recent evaluation verdict per customer and
// channel for the read API. The cache is strictly advisory: a send is always
// gated by a fresh evaluation, so a stale entry can never cause a violation.
// Redis failures degrade to cache misses.
type VerdictCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewVerdictCache creates a verdict cache with the given entry TTL
func NewVerdictCache(client *redis.Client, logger *zap.Logger, ttl time.Duration) *VerdictCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &VerdictCache{client: client, logger: logger, ttl: ttl}
}

func verdictKey(customerID uuid.UUID, channel values.Channel) string {
	return verdictPrefix + customerID.String() + ":" + channel.String()
}

// Store caches a verdict for the customer and channel
func (c *VerdictCache) Store(ctx context.Context, customerID uuid.UUID, channel values.Channel, verdict *compliance.Verdict) {
	data, err := json.Marshal(verdict)
	if err != nil {
		c.logger.Warn("failed to marshal verdict for cache", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, verdictKey(customerID, channel), data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache verdict",
			zap.String("customer_id", customerID.String()), zap.Error(err))
	}
}

// Get returns the cached verdict, or nil on a miss
func (c *VerdictCache) Get(ctx context.Context, customerID uuid.UUID, channel values.Channel) *compliance.Verdict {
	data, err := c.client.Get(ctx, verdictKey(customerID, channel)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("verdict cache read failed",
				zap.String("customer_id", customerID.String()), zap.Error(err))
		}
		return nil
	}
	var verdict compliance.Verdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		c.logger.Warn("corrupt verdict cache entry dropped",
			zap.String("customer_id", customerID.String()), zap.Error(err))
		return nil
	}
	return &verdict
}

// Invalidate drops all cached verdicts for the customer. Called whenever the
// customer's history or consents change.
func (c *VerdictCache) Invalidate(ctx context.Context, customerID uuid.UUID) {
	keys := make([]string, 0, len(values.ChannelPriority))
	for _, ch := range values.ChannelPriority {
		keys = append(keys, verdictKey(customerID, ch))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("verdict cache invalidation failed",
			zap.String("customer_id", customerID.String()), zap.Error(err))
	}
}
