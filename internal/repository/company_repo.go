package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avissapr/signflow/internal/database"
	"github.com/avissapr/signflow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CompanyRepository reads and writes per-tenant settings used when collections complete.
//
// Database Table: companies
type CompanyRepository struct {
	db database.Querier
}

// NewCompanyRepository creates a repository bound to db.
func NewCompanyRepository(db database.Querier) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// Get returns the company's configuration, or nil when the company does not exist.
func (r *CompanyRepository) Get(ctx context.Context, companyID uuid.UUID) (*models.CompanyConfiguration, error) {
	query := `SELECT id, send_signed_document, download_link_ttl_seconds FROM companies WHERE id = $1`

	var cfg models.CompanyConfiguration
	var ttlSeconds int
	err := r.db.QueryRow(ctx, query, companyID).Scan(&cfg.CompanyID, &cfg.ShouldSendSignedDocument, &ttlSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read company %s: %w", companyID, err)
	}
	cfg.DownloadLinkTTL = time.Duration(ttlSeconds) * time.Second
	return &cfg, nil
}

// Update stores the company's configuration. It reports false when the company does not exist.
func (r *CompanyRepository) Update(ctx context.Context, cfg *models.CompanyConfiguration) (bool, error) {
	query := `UPDATE companies SET send_signed_document = $1, download_link_ttl_seconds = $2 WHERE id = $3`

	tag, err := r.db.Exec(ctx, query, cfg.ShouldSendSignedDocument, int(cfg.DownloadLinkTTL/time.Second), cfg.CompanyID)
	if err != nil {
		return false, fmt.Errorf("failed to update company %s: %w", cfg.CompanyID, err)
	}
	return tag.RowsAffected() > 0, nil
}
