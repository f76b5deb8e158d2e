package services

import (
	"context"
	"errors"
	"time"

	"github.com/avissapr/signflow/internal/models"
	"github.com/avissapr/signflow/internal/ports"
	"github.com/avissapr/signflow/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotAdmin is returned when a company setting is changed by an owner without the admin role.
var ErrNotAdmin = errors.New("admin role required")

// Presigned S3 links cannot outlive a week.
const (
	minDownloadLinkTTL = time.Minute
	maxDownloadLinkTTL = 7 * 24 * time.Hour
)

// ConfigInvalidator drops a cached company configuration.
type ConfigInvalidator interface {
	Invalidate(companyID uuid.UUID)
}

// CompanyService reads and changes the per-tenant settings applied when collections complete.
type CompanyService struct {
	configs ports.CompanyConfigReader
	writer  ports.CompanyConfigWriter
	cache   ConfigInvalidator
	logger  zerolog.Logger
}

// NewCompanyService creates a service reading through configs (normally the TTL cache) and
// writing through writer. cache is invalidated after every write.
func NewCompanyService(configs ports.CompanyConfigReader, writer ports.CompanyConfigWriter, cache ConfigInvalidator, logger zerolog.Logger) *CompanyService {
	return &CompanyService{
		configs: configs,
		writer:  writer,
		cache:   cache,
		logger:  logger.With().Str("component", "company").Logger(),
	}
}

// Configuration returns the settings of the owner's company.
func (s *CompanyService) Configuration(ctx context.Context, owner Owner) (*models.CompanyConfiguration, error) {
	return s.configs.Get(ctx, owner.CompanyID)
}

// UpdateConfiguration stores new settings for the admin's company. The change is visible to
// the next completed collection.
func (s *CompanyService) UpdateConfiguration(ctx context.Context, owner Owner, sendSignedDocument bool, downloadLinkTTL time.Duration) (*models.CompanyConfiguration, error) {
	if !owner.Admin {
		return nil, ErrNotAdmin
	}
	if downloadLinkTTL < minDownloadLinkTTL || downloadLinkTTL > maxDownloadLinkTTL {
		return nil, types.ValidationFailure(types.InvalidCompanyConfiguration, "download link lifetime must be between %s and %s", minDownloadLinkTTL, maxDownloadLinkTTL)
	}

	cfg := &models.CompanyConfiguration{
		CompanyID:                owner.CompanyID,
		ShouldSendSignedDocument: sendSignedDocument,
		DownloadLinkTTL:          downloadLinkTTL,
	}
	found, err := s.writer.Update(ctx, cfg)
	if err != nil {
		s.logger.Error().Err(err).Str("company_id", owner.CompanyID.String()).Msg("failed to update company configuration")
		return nil, err
	}
	if !found {
		return nil, types.ValidationFailure(types.InvalidCompanyConfiguration, "company %s not found", owner.CompanyID)
	}
	s.cache.Invalidate(owner.CompanyID)

	s.logger.Info().
		Str("company_id", owner.CompanyID.String()).
		Str("user_id", owner.UserID.String()).
		Bool("send_signed_document", sendSignedDocument).
		Dur("download_link_ttl", downloadLinkTTL).
		Msg("company configuration updated")
	return cfg, nil
}
