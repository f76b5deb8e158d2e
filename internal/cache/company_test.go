package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avissapr/signflow/internal/cache"
	"github.com/avissapr/signflow/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu      sync.Mutex
	configs map[uuid.UUID]*models.CompanyConfiguration
	calls   int
	err     error
}

func (s *countingSource) Get(_ context.Context, id uuid.UUID) (*models.CompanyConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.configs[id], nil
}

var defaults = models.CompanyConfiguration{ShouldSendSignedDocument: true, DownloadLinkTTL: 24 * time.Hour}

func TestCompanyConfig_CachesLoads(t *testing.T) {
	id := uuid.New()
	source := &countingSource{configs: map[uuid.UUID]*models.CompanyConfiguration{
		id: {CompanyID: id, ShouldSendSignedDocument: false, DownloadLinkTTL: time.Hour},
	}}
	c := cache.NewCompanyConfig(source, time.Minute, defaults)

	first, err := c.Get(context.Background(), id)
	require.NoError(t, err)
	second, err := c.Get(context.Background(), id)
	require.NoError(t, err)

	assert.False(t, first.ShouldSendSignedDocument)
	assert.Equal(t, time.Hour, second.DownloadLinkTTL)
	assert.Equal(t, 1, source.calls)
}

func TestCompanyConfig_DefaultsForUnknownCompany(t *testing.T) {
	id := uuid.New()
	c := cache.NewCompanyConfig(&countingSource{}, time.Minute, defaults)

	cfg, err := c.Get(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, id, cfg.CompanyID)
	assert.True(t, cfg.ShouldSendSignedDocument)
	assert.Equal(t, 24*time.Hour, cfg.DownloadLinkTTL)
}

func TestCompanyConfig_ExpiresAndInvalidates(t *testing.T) {
	id := uuid.New()
	source := &countingSource{}
	c := cache.NewCompanyConfig(source, 20*time.Millisecond, defaults)
	ctx := context.Background()

	_, err := c.Get(ctx, id)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	_, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls, "expired entries are reloaded")

	c.Invalidate(id)
	_, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, source.calls)
}

func TestCompanyConfig_SourceErrorNotCached(t *testing.T) {
	id := uuid.New()
	source := &countingSource{err: errors.New("db down")}
	c := cache.NewCompanyConfig(source, time.Minute, defaults)

	_, err := c.Get(context.Background(), id)
	assert.Error(t, err)

	source.err = nil
	cfg, err := c.Get(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
