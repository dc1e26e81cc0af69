package rest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/collectwise/outreach-backend/internal/domain/compliance"
	"github.com/collectwise/outreach-backend/internal/domain/values"
	"github.com/collectwise/outreach-backend/internal/infrastructure/cache"
)

// CachedCompliance fronts the compliance service with the verdict cache for
// the read-only scheduling query. Sends never consult the cache; only the
// advisory next-allowed endpoint does. Consent writes invalidate.
type CachedCompliance struct {
	ComplianceAPI
	cache *cache.VerdictCache
}

// NewCachedCompliance wraps the compliance API with the verdict cache
func NewCachedCompliance(inner ComplianceAPI, verdicts *cache.VerdictCache) *CachedCompliance {
	return &CachedCompliance{ComplianceAPI: inner, cache: verdicts}
}

func (c *CachedCompliance) NextAllowedTime(ctx context.Context, customerID uuid.UUID, channel values.Channel) (time.Time, error) {
	if v := c.cache.Get(ctx, customerID, channel); v != nil &&
		v.NextAllowedTime != nil && v.NextAllowedTime.After(time.Now()) {
		return *v.NextAllowedTime, nil
	}

	at, err := c.ComplianceAPI.NextAllowedTime(ctx, customerID, channel)
	if err != nil {
		return at, err
	}
	c.cache.Store(ctx, customerID, channel, &compliance.Verdict{
		Compliant:       true,
		CanProceed:      !at.After(time.Now()),
		NextAllowedTime: &at,
	})
	return at, nil
}

func (c *CachedCompliance) GrantConsent(ctx context.Context, customerID uuid.UUID, consent compliance.ConsentRecord) error {
	// Invalidate only after the consent is persisted, so a concurrent read
	// cannot re-cache the pre-consent verdict.
	if err := c.ComplianceAPI.GrantConsent(ctx, customerID, consent); err != nil {
		return err
	}
	c.cache.Invalidate(ctx, customerID)
	return nil
}
