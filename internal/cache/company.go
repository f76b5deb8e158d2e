// Package cache holds explicit, TTL-bounded caches injected into the components that need them.
package cache

import (
	"context"
	"time"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// CompanyConfig caches company configurations read from source. A company without a stored
// configuration gets the defaults, and that answer is cached too.
type CompanyConfig struct {
	source   ports.CompanyConfigReader
	defaults models.CompanyConfiguration
	items    *ttlcache.Cache[uuid.UUID, models.CompanyConfiguration]
}

// NewCompanyConfig creates a cache whose entries expire ttl after they were loaded.
func NewCompanyConfig(source ports.CompanyConfigReader, ttl time.Duration, defaults models.CompanyConfiguration) *CompanyConfig {
	return &CompanyConfig{
		source:   source,
		defaults: defaults,
		items: ttlcache.New[uuid.UUID, models.CompanyConfiguration](
			ttlcache.WithTTL[uuid.UUID, models.CompanyConfiguration](ttl),
			ttlcache.WithDisableTouchOnHit[uuid.UUID, models.CompanyConfiguration](),
		),
	}
}

// Start runs the expiry sweeper until Stop is called.
func (c *CompanyConfig) Start() {
	go c.items.Start()
}

func (c *CompanyConfig) Stop() {
	c.items.Stop()
}

// Get returns the configuration of companyID, loading it on a miss.
func (c *CompanyConfig) Get(ctx context.Context, companyID uuid.UUID) (*models.CompanyConfiguration, error) {
	if item := c.items.Get(companyID); item != nil {
		cfg := item.Value()
		return &cfg, nil
	}

	stored, err := c.source.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	cfg := c.defaults
	if stored != nil {
		cfg = *stored
		if cfg.DownloadLinkTTL <= 0 {
			cfg.DownloadLinkTTL = c.defaults.DownloadLinkTTL
		}
	}
	cfg.CompanyID = companyID

	c.items.Set(companyID, cfg, ttlcache.DefaultTTL)
	return &cfg, nil
}

// Invalidate drops the cached configuration of companyID.
func (c *CompanyConfig) Invalidate(companyID uuid.UUID) {
	c.items.Delete(companyID)
}
